package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/studiobase/backend/internal/middleware"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/internal/services"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

type AuthHandler struct {
	DB          *gorm.DB
	Sessions    *services.SessionService
	Credentials *services.CredentialService
}

func NewAuthHandler(db *gorm.DB, sessions *services.SessionService, credentials *services.CredentialService) *AuthHandler {
	return &AuthHandler{DB: db, Sessions: sessions, Credentials: credentials}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	user, token, err := h.Sessions.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		return utils.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrAccountUnverified):
		return utils.Error(c, fiber.StatusForbidden, "email address not verified")
	case err != nil:
		logger.Error("login_failed", err, map[string]interface{}{"ip": c.IP()})
		return utils.Error(c, fiber.StatusInternalServerError, "login failed")
	}

	middleware.SetSessionCookie(c, token)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

// Me is the session check: RequireAuth already refreshed the token and
// loaded the latest user state.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

// Logout clears the cookie. Sessions are stateless, so there is nothing to
// invalidate server-side; a copied token stays valid until expiry.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	middleware.ClearSessionCookie(c)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	currentUser := middleware.GetCurrentUser(c)
	if currentUser == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "newPassword must be at least 8 characters")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", currentUser.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading user")
	}

	if !utils.CheckPassword(req.OldPassword, user.PasswordHash) {
		return utils.Error(c, fiber.StatusBadRequest, "oldPassword is incorrect")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}

	if err := h.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	logger.InfoWithUser(user.ID.String(), "password_changed", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}

type resetRequestBody struct {
	Email string `json:"email"`
}

// RequestPasswordReset acknowledges identically whether or not the address
// belongs to an account.
func (h *AuthHandler) RequestPasswordReset(c *fiber.Ctx) error {
	var req resetRequestBody
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	if err := h.Credentials.RequestPasswordReset(req.Email); err != nil {
		logger.Error("password_reset_request_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed processing reset request")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": "if the address belongs to an account, a reset email has been sent",
	})
}

type resetConsumeBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) ConsumePasswordReset(c *fiber.Ctx) error {
	var req resetConsumeBody
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "newPassword must be at least 8 characters")
	}

	user, token, err := h.Credentials.ConsumePasswordReset(req.Token, req.NewPassword)
	switch {
	case errors.Is(err, services.ErrInvalidOrExpiredToken):
		return utils.Error(c, fiber.StatusGone, "invalid or expired token")
	case err != nil:
		logger.Error("password_reset_consume_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed resetting password")
	}

	if token == "" {
		// Password changed, but login stays gated on email verification.
		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"message": "password updated; verify your email address to sign in",
		})
	}

	middleware.SetSessionCookie(c, token)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}

func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	tokenValue := strings.TrimSpace(c.Query("token"))
	if tokenValue == "" {
		return utils.Error(c, fiber.StatusNotFound, "invalid or expired token")
	}

	user, alreadyVerified, err := h.Credentials.ConsumeEmailVerification(tokenValue)
	switch {
	case errors.Is(err, services.ErrInvalidOrExpiredToken):
		return utils.Error(c, fiber.StatusGone, "invalid or expired token")
	case err != nil:
		logger.Error("email_verification_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed verifying email")
	}

	message := "email address verified"
	if alreadyVerified {
		message = "email address already verified"
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"message": message,
		"email":   user.Email,
	})
}
