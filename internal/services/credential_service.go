package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

// CredentialService orchestrates the password-reset and email-verification
// token lifecycles. Both are single-use, time-bounded tokens checked against
// persisted user state; nothing here keeps in-process state between requests.
type CredentialService struct {
	DB          *gorm.DB
	Tokens      *TokenService
	Mailer      Mailer
	FrontendURL string
}

func NewCredentialService(db *gorm.DB, tokens *TokenService, mailer Mailer, frontendURL string) *CredentialService {
	return &CredentialService{DB: db, Tokens: tokens, Mailer: mailer, FrontendURL: frontendURL}
}

// RequestPasswordReset issues a fresh reset token and emails the plaintext
// secret. It returns nil for unknown or deactivated accounts so the caller's
// acknowledgment is identical either way (anti-enumeration). Any previously
// issued unused token for the user stops working the moment the new one is
// persisted: delete-then-insert runs in one transaction, and the partial
// unique index on user_id rejects a second live row when two requests race
// past each other's uncommitted delete. The loser retries against the
// winner's now-committed row.
func (s *CredentialService) RequestPasswordReset(email string) error {
	email = normalizeEmail(email)

	var user models.User
	if err := s.DB.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !user.Active() {
		return nil
	}

	secret, err := utils.NewOpaqueSecret(32)
	if err != nil {
		return err
	}

	token := models.PasswordResetToken{
		UserID:      user.ID,
		TokenDigest: utils.DigestSecret(secret),
		ExpiresAt:   time.Now().Add(ResetTokenTTL),
	}

	persist := func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
				return err
			}
			return tx.Create(&token).Error
		})
	}

	err = persist()
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the insert race against a concurrent request for the same
		// user; the winner's row is committed now, so the second pass
		// supersedes it.
		err = persist()
	}
	if err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.FrontendURL, secret)
	if err := s.Mailer.SendPasswordReset(user.Email, resetURL); err != nil {
		return err
	}

	logger.InfoWithUser(user.ID.String(), "password_reset_requested", map[string]interface{}{
		"email": user.Email,
	})
	return nil
}

// ConsumePasswordReset exchanges a reset secret for a new password. The
// token is marked used with a conditional update, so exactly one of any
// number of concurrent attempts with the same secret wins. The returned
// session token is empty when the account's email is not yet verified:
// the password changed, but login stays gated on verification.
func (s *CredentialService) ConsumePasswordReset(secret, newPassword string) (*models.User, string, error) {
	digest := utils.DigestSecret(secret)
	now := time.Now()

	var token models.PasswordResetToken
	if err := s.DB.First(&token, "token_digest = ?", digest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidOrExpiredToken
		}
		return nil, "", err
	}
	if token.UsedAt != nil || now.After(token.ExpiresAt) {
		return nil, "", ErrInvalidOrExpiredToken
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", token.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidOrExpiredToken
		}
		return nil, "", err
	}
	if !user.Active() {
		return nil, "", ErrInvalidOrExpiredToken
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, "", err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", token.ID).
			Update("used_at", now)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return ErrInvalidOrExpiredToken
		}
		if err := tx.Where("user_id = ? AND id <> ?", user.ID, token.ID).
			Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("password_hash", hash).Error
	})
	if err != nil {
		return nil, "", err
	}
	user.PasswordHash = hash

	logger.InfoWithUser(user.ID.String(), "password_reset_consumed", map[string]interface{}{
		"email": user.Email,
	})

	if !user.EmailVerified() {
		return &user, "", nil
	}

	user.Permissions = models.NormalizePermissions(user.Role, user.Permissions.Input())
	session, err := s.Tokens.SignSession(&user)
	if err != nil {
		return nil, "", err
	}
	return &user, session, nil
}

// ConsumeEmailVerification resolves a verification token by exact match and
// marks the account verified. A token on an already-verified account is an
// idempotent success, not an error; every other unusable state collapses
// into ErrInvalidOrExpiredToken.
func (s *CredentialService) ConsumeEmailVerification(tokenValue string) (*models.User, bool, error) {
	if tokenValue == "" {
		return nil, false, ErrInvalidOrExpiredToken
	}

	var user models.User
	if err := s.DB.First(&user, "verification_token = ?", tokenValue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrInvalidOrExpiredToken
		}
		return nil, false, err
	}
	if !user.Active() {
		return nil, false, ErrInvalidOrExpiredToken
	}

	if user.EmailVerified() {
		return &user, true, nil
	}

	now := time.Now()
	if user.VerificationExpiresAt == nil || now.After(*user.VerificationExpiresAt) {
		return nil, false, ErrInvalidOrExpiredToken
	}

	updates := map[string]interface{}{
		"email_verified_at":       now,
		"verification_token":      nil,
		"verification_expires_at": nil,
	}
	if user.Status == "" || user.Status == models.UserStatusInvited {
		updates["status"] = models.UserStatusActive
	}

	// Conditional on the token still being present, so a concurrent consume
	// of the same link cannot fire the transition twice.
	res := s.DB.Model(&models.User{}).
		Where("id = ? AND verification_token = ?", user.ID, tokenValue).
		Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, ErrInvalidOrExpiredToken
	}

	user.EmailVerifiedAt = &now
	user.VerificationToken = nil
	user.VerificationExpiresAt = nil
	if status, ok := updates["status"]; ok {
		user.Status = status.(string)
	}

	logger.InfoWithUser(user.ID.String(), "email_verified", map[string]interface{}{
		"email": user.Email,
	})
	return &user, false, nil
}
