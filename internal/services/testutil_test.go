package services

import (
	"database/sql/driver"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

var testSetupOnce sync.Once

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.User{}, &models.PasswordResetToken{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()

	tokens, err := NewTokenService(TokenConfig{SigningKey: []byte("test-secret")})
	if err != nil {
		t.Fatalf("failed creating token service: %v", err)
	}
	return tokens
}

type invitationMail struct {
	to                string
	name              string
	temporaryPassword string
	verificationURL   string
}

type resetMail struct {
	to       string
	resetURL string
}

// recordingMailer captures outbound mail so tests can fish out the one-time
// secrets that production code never returns.
type recordingMailer struct {
	invitations []invitationMail
	resets      []resetMail
}

func (m *recordingMailer) SendInvitation(to, name, temporaryPassword, verificationURL string) error {
	m.invitations = append(m.invitations, invitationMail{to, name, temporaryPassword, verificationURL})
	return nil
}

func (m *recordingMailer) SendPasswordReset(to, resetURL string) error {
	m.resets = append(m.resets, resetMail{to, resetURL})
	return nil
}

func tokenFromURL(t *testing.T, rawURL string) string {
	t.Helper()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed parsing mailed URL %q: %v", rawURL, err)
	}
	token := parsed.Query().Get("token")
	if token == "" {
		t.Fatalf("mailed URL %q carries no token parameter", rawURL)
	}
	return token
}

type testUserParams struct {
	email       string
	password    string
	role        models.UserRole
	verified    bool
	deactivated bool
	status      string
}

func createUser(t *testing.T, db *gorm.DB, p testUserParams) *models.User {
	t.Helper()

	hash, err := utils.HashPassword(p.password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	status := p.status
	if status == "" {
		status = models.UserStatusActive
	}

	user := &models.User{
		Email:        strings.ToLower(p.email),
		PasswordHash: hash,
		Role:         p.role,
		Permissions:  models.NormalizePermissions(p.role, models.PermissionInput{}),
		Status:       status,
	}
	now := time.Now()
	if p.verified {
		user.EmailVerifiedAt = &now
	}
	if p.deactivated {
		user.DeactivatedAt = &now
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}
	return user
}
