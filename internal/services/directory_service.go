package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

// DirectoryService owns user creation and mutation, and with them the two
// cross-cutting invariants: role always wins over supplied permissions, and
// the workspace never drops to zero active administrators.
type DirectoryService struct {
	DB          *gorm.DB
	Mailer      Mailer
	FrontendURL string
}

func NewDirectoryService(db *gorm.DB, mailer Mailer, frontendURL string) *DirectoryService {
	return &DirectoryService{DB: db, Mailer: mailer, FrontendURL: frontendURL}
}

// ComputeInvitationDefaults is the role→permission seam used by invitation
// and edit flows.
func (s *DirectoryService) ComputeInvitationDefaults(role models.UserRole, input models.PermissionInput) models.Permissions {
	return models.NormalizePermissions(role, input)
}

type InviteUserParams struct {
	Email       string
	Name        *string
	Role        models.UserRole
	Permissions models.PermissionInput
}

// CreateInvitedUser provisions a user in "invited" status with a hashed
// temporary password and a 72h verification token, then hands both secrets
// to the mail collaborator. Neither secret is persisted in plaintext and
// neither is returned to the caller.
func (s *DirectoryService) CreateInvitedUser(p InviteUserParams) (*models.User, error) {
	email := normalizeEmail(p.Email)

	temporaryPassword, err := utils.NewOpaqueSecret(utils.MinSecretBytes)
	if err != nil {
		return nil, err
	}
	passwordHash, err := utils.HashPassword(temporaryPassword)
	if err != nil {
		return nil, err
	}
	verificationToken, err := utils.NewOpaqueSecret(32)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expires := now.Add(VerificationTTL)

	user := models.User{
		Email:                 email,
		Name:                  trimmedName(p.Name),
		PasswordHash:          passwordHash,
		Role:                  p.Role,
		Permissions:           models.NormalizePermissions(p.Role, p.Permissions),
		Status:                models.UserStatusInvited,
		VerificationToken:     &verificationToken,
		VerificationExpiresAt: &expires,
		InvitationSentAt:      &now,
	}

	if err := s.DB.Create(&user).Error; err != nil {
		// The email unique index is the sole duplicate check, so two
		// concurrent invitations for the same address cannot both land;
		// the loser gets the same conflict as a sequential duplicate.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	verificationURL := fmt.Sprintf("%s/verify-email?token=%s", s.FrontendURL, verificationToken)
	if err := s.Mailer.SendInvitation(user.Email, name, temporaryPassword, verificationURL); err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "user_invited", map[string]interface{}{
		"email": user.Email,
		"role":  string(user.Role),
	})
	return &user, nil
}

// ResendInvitation rotates the temporary password and verification token of
// a still-invited user and sends a fresh invitation email.
func (s *DirectoryService) ResendInvitation(userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	if !user.Active() || user.EmailVerified() || user.Status != models.UserStatusInvited {
		return nil, ErrInvalidOrExpiredToken
	}

	temporaryPassword, err := utils.NewOpaqueSecret(utils.MinSecretBytes)
	if err != nil {
		return nil, err
	}
	passwordHash, err := utils.HashPassword(temporaryPassword)
	if err != nil {
		return nil, err
	}
	verificationToken, err := utils.NewOpaqueSecret(32)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expires := now.Add(VerificationTTL)
	updates := map[string]interface{}{
		"password_hash":           passwordHash,
		"verification_token":      verificationToken,
		"verification_expires_at": expires,
		"invitation_sent_at":      now,
	}
	if err := s.DB.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	user.PasswordHash = passwordHash
	user.VerificationToken = &verificationToken
	user.VerificationExpiresAt = &expires
	user.InvitationSentAt = &now

	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	verificationURL := fmt.Sprintf("%s/verify-email?token=%s", s.FrontendURL, verificationToken)
	if err := s.Mailer.SendInvitation(user.Email, name, temporaryPassword, verificationURL); err != nil {
		return nil, err
	}

	logger.InfoWithUser(user.ID.String(), "invitation_resent", map[string]interface{}{
		"email": user.Email,
	})
	return &user, nil
}

type UserEdits struct {
	Name        *string
	Role        *models.UserRole
	Permissions *models.PermissionInput
	Status      *string
	Active      *bool
}

// ApplyUserEdit computes the diff of the requested changes and persists it.
// Demoting or deactivating an admin requires at least one other active admin
// to exist; the count runs inside the same transaction as the write so two
// concurrent demotions cannot both observe a spare admin. An empty diff is
// ErrNoChanges, not a silent no-op write.
func (s *DirectoryService) ApplyUserEdit(userID uuid.UUID, edits UserEdits) (*models.User, error) {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}

	if edits.Name != nil {
		name := strings.TrimSpace(*edits.Name)
		switch {
		case name == "" && user.Name != nil:
			updates["name"] = nil
		case name != "" && (user.Name == nil || *user.Name != name):
			updates["name"] = name
		}
	}

	roleAfter := user.Role
	if edits.Role != nil && *edits.Role != user.Role {
		roleAfter = *edits.Role
		updates["role"] = roleAfter
	}

	// Re-normalize whenever the role changes or a permission payload was
	// supplied; the role always wins over the payload.
	if edits.Role != nil || edits.Permissions != nil {
		input := user.Permissions.Input()
		if edits.Permissions != nil {
			input = *edits.Permissions
		}
		normalized := models.NormalizePermissions(roleAfter, input)
		if normalized != user.Permissions {
			updates["manage_users"] = normalized.ManageUsers
			updates["edit_settings"] = normalized.EditSettings
			updates["view_galleries"] = normalized.ViewGalleries
			updates["manage_integrations"] = normalized.ManageIntegrations
			updates["manage_calendar"] = normalized.ManageCalendar
		}
	}

	if edits.Status != nil {
		status := strings.TrimSpace(*edits.Status)
		if status != "" && status != user.Status {
			updates["status"] = status
		}
	}

	deactivating := false
	if edits.Active != nil {
		if !*edits.Active && user.Active() {
			deactivating = true
			updates["deactivated_at"] = time.Now()
		}
		if *edits.Active && !user.Active() {
			updates["deactivated_at"] = nil
		}
	}

	if len(updates) == 0 {
		return nil, ErrNoChanges
	}

	demoting := user.Role == models.UserRoleAdmin && roleAfter != models.UserRoleAdmin
	needsGuard := user.Role == models.UserRoleAdmin && (demoting || deactivating)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if needsGuard {
			var others int64
			if err := tx.Model(&models.User{}).
				Where("role = ? AND deactivated_at IS NULL AND id <> ?", models.UserRoleAdmin, user.ID).
				Count(&others).Error; err != nil {
				return err
			}
			if others == 0 {
				return ErrLastAdmin
			}
		}
		return tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	var updated models.User
	if err := s.DB.First(&updated, "id = ?", user.ID).Error; err != nil {
		return nil, err
	}

	logger.InfoWithUser(updated.ID.String(), "user_edited", map[string]interface{}{
		"email": updated.Email,
		"role":  string(updated.Role),
	})
	return &updated, nil
}

func trimmedName(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
