package services

import (
	"errors"
	"testing"

	"github.com/studiobase/backend/internal/models"
)

func newDirectoryFixture(t *testing.T) (*DirectoryService, *recordingMailer) {
	t.Helper()

	db := openTestDB(t)
	mailer := &recordingMailer{}
	return NewDirectoryService(db, mailer, "http://localhost:3001"), mailer
}

func TestCreateInvitedUser(t *testing.T) {
	directory, mailer := newDirectoryFixture(t)

	t.Run("invited standard user gets normalized defaults", func(t *testing.T) {
		user, err := directory.CreateInvitedUser(InviteUserParams{
			Email: "A@Example.com",
			Role:  models.UserRoleStandard,
		})
		if err != nil {
			t.Fatalf("expected invitation to succeed: %v", err)
		}

		if user.Email != "a@example.com" {
			t.Errorf("expected lowercased email, got %q", user.Email)
		}
		if user.Status != models.UserStatusInvited {
			t.Errorf("expected status invited, got %q", user.Status)
		}
		if user.EmailVerifiedAt != nil {
			t.Error("invited user must not start verified")
		}
		if user.InvitationSentAt == nil {
			t.Error("expected invitationSentAt to be stamped")
		}

		want := models.Permissions{
			ManageUsers:        false,
			EditSettings:       false,
			ViewGalleries:      true,
			ManageIntegrations: true,
			ManageCalendar:     true,
		}
		if user.Permissions != want {
			t.Errorf("expected standard defaults %+v, got %+v", want, user.Permissions)
		}

		if len(mailer.invitations) != 1 {
			t.Fatalf("expected one invitation mail, got %d", len(mailer.invitations))
		}
		invite := mailer.invitations[0]
		if invite.temporaryPassword == "" {
			t.Error("invitation must carry the temporary password")
		}
		if user.PasswordHash == invite.temporaryPassword {
			t.Error("temporary password must not be stored in plaintext")
		}
		if token := tokenFromURL(t, invite.verificationURL); user.VerificationToken == nil || token != *user.VerificationToken {
			t.Error("mailed verification link does not match the stored token")
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		_, err := directory.CreateInvitedUser(InviteUserParams{
			Email: "a@example.com",
			Role:  models.UserRoleStandard,
		})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("admin invitation ignores restrictive payloads", func(t *testing.T) {
		off := false
		user, err := directory.CreateInvitedUser(InviteUserParams{
			Email:       "admin-invite@example.com",
			Role:        models.UserRoleAdmin,
			Permissions: models.PermissionInput{ManageUsers: &off, ManageCalendar: &off},
		})
		if err != nil {
			t.Fatalf("expected invitation to succeed: %v", err)
		}
		if !user.Permissions.ManageUsers || !user.Permissions.ManageCalendar {
			t.Errorf("admin must hold every capability, got %+v", user.Permissions)
		}
	})
}

// Full invitation lifecycle: invite, verify, then sign in with the
// temporary password.
func TestInvitationLifecycle(t *testing.T) {
	directory, mailer := newDirectoryFixture(t)
	tokens := newTestTokenService(t)
	sessions := NewSessionService(directory.DB, tokens)
	creds := NewCredentialService(directory.DB, tokens, mailer, "http://localhost:3001")

	invited, err := directory.CreateInvitedUser(InviteUserParams{
		Email: "a@example.com",
		Role:  models.UserRoleStandard,
	})
	if err != nil {
		t.Fatalf("invitation failed: %v", err)
	}
	invite := mailer.invitations[0]

	if _, _, err := sessions.Login(invited.Email, invite.temporaryPassword); !errors.Is(err, ErrAccountUnverified) {
		t.Fatalf("login before verification should be gated, got %v", err)
	}

	verified, already, err := creds.ConsumeEmailVerification(tokenFromURL(t, invite.verificationURL))
	if err != nil || already {
		t.Fatalf("verification failed: err=%v already=%v", err, already)
	}
	if verified.EmailVerifiedAt == nil {
		t.Fatal("expected verification timestamp")
	}

	user, session, err := sessions.Login(invited.Email, invite.temporaryPassword)
	if err != nil {
		t.Fatalf("login after verification failed: %v", err)
	}

	claims, err := tokens.VerifySession(session)
	if err != nil {
		t.Fatalf("session failed verification: %v", err)
	}
	if !claims.EmailVerified {
		t.Error("session should carry a verified flag")
	}
	if claims.Role != models.UserRoleStandard || user.Permissions.ManageUsers {
		t.Error("invited standard user must not come out an admin")
	}
}

func TestResendInvitation(t *testing.T) {
	directory, mailer := newDirectoryFixture(t)

	invited, err := directory.CreateInvitedUser(InviteUserParams{
		Email: "slowpoke@example.com",
		Role:  models.UserRoleStandard,
	})
	if err != nil {
		t.Fatalf("invitation failed: %v", err)
	}
	firstToken := *invited.VerificationToken

	resent, err := directory.ResendInvitation(invited.ID)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if len(mailer.invitations) != 2 {
		t.Fatalf("expected a second invitation mail, got %d", len(mailer.invitations))
	}
	if *resent.VerificationToken == firstToken {
		t.Error("resend must rotate the verification token")
	}

	active := createUser(t, directory.DB, testUserParams{
		email:    "settled@example.com",
		password: "password123",
		role:     models.UserRoleStandard,
		verified: true,
	})
	if _, err := directory.ResendInvitation(active.ID); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected rejection for a verified user, got %v", err)
	}
}

func TestApplyUserEdit(t *testing.T) {
	directory, _ := newDirectoryFixture(t)
	db := directory.DB

	admin := createUser(t, db, testUserParams{
		email:    "only-admin@test.com",
		password: "password123",
		role:     models.UserRoleAdmin,
		verified: true,
	})
	member := createUser(t, db, testUserParams{
		email:    "member@test.com",
		password: "password123",
		role:     models.UserRoleStandard,
		verified: true,
	})

	standard := models.UserRoleStandard
	adminRole := models.UserRoleAdmin
	inactive := false

	t.Run("empty diff is rejected", func(t *testing.T) {
		if _, err := directory.ApplyUserEdit(member.ID, UserEdits{}); !errors.Is(err, ErrNoChanges) {
			t.Fatalf("expected ErrNoChanges, got %v", err)
		}
	})

	t.Run("clearing an already-empty name is not a change", func(t *testing.T) {
		empty := ""
		if _, err := directory.ApplyUserEdit(member.ID, UserEdits{Name: &empty}); !errors.Is(err, ErrNoChanges) {
			t.Fatalf("expected ErrNoChanges for a nil-to-nil name edit, got %v", err)
		}

		named := "Member Name"
		if _, err := directory.ApplyUserEdit(member.ID, UserEdits{Name: &named}); err != nil {
			t.Fatalf("failed setting name: %v", err)
		}
		updated, err := directory.ApplyUserEdit(member.ID, UserEdits{Name: &empty})
		if err != nil {
			t.Fatalf("clearing a set name must succeed: %v", err)
		}
		if updated.Name != nil {
			t.Fatalf("expected cleared name, got %q", *updated.Name)
		}
	})

	t.Run("demoting the sole active admin fails and changes nothing", func(t *testing.T) {
		if _, err := directory.ApplyUserEdit(admin.ID, UserEdits{Role: &standard}); !errors.Is(err, ErrLastAdmin) {
			t.Fatalf("expected ErrLastAdmin, got %v", err)
		}

		var stored models.User
		if err := db.First(&stored, "id = ?", admin.ID).Error; err != nil {
			t.Fatalf("failed reloading admin: %v", err)
		}
		if stored.Role != models.UserRoleAdmin {
			t.Fatal("failed edit must not mutate the record")
		}
	})

	t.Run("deactivating the sole active admin fails", func(t *testing.T) {
		if _, err := directory.ApplyUserEdit(admin.ID, UserEdits{Active: &inactive}); !errors.Is(err, ErrLastAdmin) {
			t.Fatalf("expected ErrLastAdmin, got %v", err)
		}
	})

	t.Run("promotion forces the full capability set", func(t *testing.T) {
		off := false
		updated, err := directory.ApplyUserEdit(member.ID, UserEdits{
			Role:        &adminRole,
			Permissions: &models.PermissionInput{ManageUsers: &off, EditSettings: &off},
		})
		if err != nil {
			t.Fatalf("promotion failed: %v", err)
		}
		if !updated.Permissions.ManageUsers || !updated.Permissions.EditSettings {
			t.Errorf("admin normalization must override the payload, got %+v", updated.Permissions)
		}
	})

	t.Run("with a second active admin the demotion succeeds", func(t *testing.T) {
		updated, err := directory.ApplyUserEdit(admin.ID, UserEdits{Role: &standard})
		if err != nil {
			t.Fatalf("expected demotion to succeed: %v", err)
		}
		if updated.Role != models.UserRoleStandard {
			t.Errorf("expected standard role, got %s", updated.Role)
		}
		if updated.Permissions.ManageUsers {
			t.Error("demotion must re-normalize permissions")
		}
	})

	t.Run("restricted role strips administrative capabilities", func(t *testing.T) {
		restricted := models.UserRoleRestricted
		updated, err := directory.ApplyUserEdit(admin.ID, UserEdits{Role: &restricted})
		if err != nil {
			t.Fatalf("edit failed: %v", err)
		}
		p := updated.Permissions
		if p.ManageUsers || p.EditSettings || p.ManageIntegrations {
			t.Errorf("restricted user holds forbidden capabilities: %+v", p)
		}
		if !p.ViewGalleries || !p.ManageCalendar {
			t.Errorf("restricted user should keep gallery and calendar access: %+v", p)
		}
	})

	t.Run("deactivating a non-admin needs no guard", func(t *testing.T) {
		victim := createUser(t, db, testUserParams{
			email:    "leaving@test.com",
			password: "password123",
			role:     models.UserRoleStandard,
			verified: true,
		})
		updated, err := directory.ApplyUserEdit(victim.ID, UserEdits{Active: &inactive})
		if err != nil {
			t.Fatalf("deactivation failed: %v", err)
		}
		if updated.DeactivatedAt == nil {
			t.Fatal("expected deactivatedAt to be set")
		}

		reactivate := true
		updated, err = directory.ApplyUserEdit(victim.ID, UserEdits{Active: &reactivate})
		if err != nil {
			t.Fatalf("reactivation failed: %v", err)
		}
		if updated.DeactivatedAt != nil {
			t.Fatal("expected deactivatedAt to be cleared")
		}
	})
}
