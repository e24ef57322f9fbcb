package services

import (
	"errors"
	"strings"
	"time"

	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

type SessionService struct {
	DB     *gorm.DB
	Tokens *TokenService
}

func NewSessionService(db *gorm.DB, tokens *TokenService) *SessionService {
	return &SessionService{DB: db, Tokens: tokens}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates an email/password pair and issues a session token.
// A missing user, a wrong password and a deactivated account all fail with
// the same ErrInvalidCredentials, so the response carries no existence
// signal. An unverified account is the one distinguishable case: the caller
// already proved ownership of the password, and the UI needs to tell them to
// verify first.
func (s *SessionService) Login(email, password string) (*models.User, string, error) {
	email = normalizeEmail(email)

	var user models.User
	if err := s.DB.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if !utils.CheckPassword(password, user.PasswordHash) {
		logger.WarnWithUser(user.ID.String(), "login_failed_invalid_password", map[string]interface{}{
			"email": email,
		})
		return nil, "", ErrInvalidCredentials
	}
	if !user.Active() {
		return nil, "", ErrInvalidCredentials
	}
	if !user.EmailVerified() {
		return nil, "", ErrAccountUnverified
	}

	user.Permissions = models.NormalizePermissions(user.Role, user.Permissions.Input())

	token, err := s.Tokens.SignSession(&user)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	if err := s.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("last_login_at", now).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "login_last_seen_update_failed", err, nil)
	} else {
		user.LastLoginAt = &now
	}

	logger.InfoWithUser(user.ID.String(), "user_login", map[string]interface{}{
		"email": user.Email,
	})

	return &user, token, nil
}

// VerifyAndRefresh validates a session token, re-reads the user row so role,
// permission and deactivation changes take effect immediately, and re-signs
// a fresh token with a full horizon. Authenticated reads silently extend the
// session instead of trusting the claims stamped at login time.
func (s *SessionService) VerifyAndRefresh(token string) (*models.User, string, error) {
	claims, err := s.Tokens.VerifySession(token)
	if err != nil {
		return nil, "", ErrUnauthenticated
	}

	var user models.User
	if err := s.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrUnauthenticated
		}
		return nil, "", err
	}
	if !user.Active() {
		return nil, "", ErrUnauthenticated
	}

	user.Permissions = models.NormalizePermissions(user.Role, user.Permissions.Input())

	refreshed, err := s.Tokens.SignSession(&user)
	if err != nil {
		return nil, "", err
	}

	return &user, refreshed, nil
}
