package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/studiobase/backend/internal/middleware"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/internal/services"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

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

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	tokens *services.TokenService
	mailer *recordingMailer
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
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

	tokens, err := services.NewTokenService(services.TokenConfig{SigningKey: []byte("test-secret")})
	if err != nil {
		t.Fatalf("failed creating token service: %v", err)
	}

	mailer := &recordingMailer{}
	sessionService := services.NewSessionService(db, tokens)
	credentialService := services.NewCredentialService(db, tokens, mailer, "http://localhost:3001")
	directoryService := services.NewDirectoryService(db, mailer, "http://localhost:3001")

	authHandler := NewAuthHandler(db, sessionService, credentialService)
	usersHandler := NewUsersHandler(db, directoryService)
	authMiddleware := middleware.NewAuthMiddleware(sessionService)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/logout", authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)
	authRoutes.Post("/password-reset", authHandler.RequestPasswordReset)
	authRoutes.Post("/password-reset/confirm", authHandler.ConsumePasswordReset)
	authRoutes.Get("/verify-email", authHandler.VerifyEmail)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, middleware.RequireManageUsers)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Post("/", usersHandler.Invite)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)
	userRoutes.Post("/:id/resend-invite", usersHandler.ResendInvite)

	return &testEnv{app: app, db: db, tokens: tokens, mailer: mailer}
}

func createTestUser(t *testing.T, env *testEnv, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	now := time.Now()
	user := &models.User{
		Email:           email,
		PasswordHash:    hash,
		Role:            role,
		Permissions:     models.NormalizePermissions(role, models.PermissionInput{}),
		Status:          models.UserStatusActive,
		EmailVerifiedAt: &now,
	}
	if err := env.db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := env.tokens.SignSession(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == middleware.SessionCookieName {
			return cookie
		}
	}
	return nil
}
