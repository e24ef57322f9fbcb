package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/internal/services"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
)

const (
	currentUserKey    = "currentUser"
	SessionCookieName = "studiobase_session"
)

type AuthMiddleware struct {
	Sessions *services.SessionService
}

func NewAuthMiddleware(sessions *services.SessionService) *AuthMiddleware {
	return &AuthMiddleware{Sessions: sessions}
}

func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3001,http://127.0.0.1:3001",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

func SetSessionCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Expires:  time.Now().Add(services.SessionTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

func ClearSessionCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

func sessionToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token != authHeader && token != "" {
			return token
		}
		return ""
	}
	return c.Cookies(SessionCookieName)
}

// RequireAuth verifies the session token, re-reads the user, and re-issues
// a fresh token on every request: each authenticated read silently extends
// the session and picks up role or deactivation changes immediately.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	token := sessionToken(c)
	if token == "" {
		return utils.Error(c, fiber.StatusUnauthorized, "missing session token")
	}

	user, refreshed, err := a.Sessions.VerifyAndRefresh(token)
	if err != nil {
		if err != services.ErrUnauthenticated {
			logger.Error("session_verification_failed", err, map[string]interface{}{
				"path": c.Path(),
			})
			return utils.Error(c, fiber.StatusInternalServerError, "session verification failed")
		}
		logger.Warn("session_rejected", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		ClearSessionCookie(c)
		return utils.Error(c, fiber.StatusUnauthorized, "invalid or expired session")
	}

	SetSessionCookie(c, refreshed)
	c.Locals(currentUserKey, user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// RequireManageUsers gates the user-directory surface on the manage-users
// capability rather than the raw role; admins always pass because
// normalization forces the capability on.
func RequireManageUsers(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if !user.Permissions.ManageUsers {
		return utils.Error(c, fiber.StatusForbidden, "manage-users permission required")
	}
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
