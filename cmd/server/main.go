package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/studiobase/backend/internal/config"
	"github.com/studiobase/backend/internal/database"
	"github.com/studiobase/backend/internal/handlers"
	"github.com/studiobase/backend/internal/middleware"
	"github.com/studiobase/backend/internal/services"
	"github.com/studiobase/backend/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	tokens, err := services.NewTokenService(services.TokenConfig{
		SigningKey: []byte(cfg.Auth.TokenSecret),
	})
	if err != nil {
		log.Fatalf("token service initialization failed: %v", err)
	}

	db, err := database.Connect(cfg.DB, cfg.Seed)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	var mailer services.Mailer = services.LogMailer{}
	if cfg.SMTP.Addr != "" {
		mailer = services.NewSMTPMailer(cfg.SMTP.Addr, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
	}

	sessionService := services.NewSessionService(db, tokens)
	credentialService := services.NewCredentialService(db, tokens, mailer, cfg.Server.FrontendURL)
	directoryService := services.NewDirectoryService(db, mailer, cfg.Server.FrontendURL)

	authHandler := handlers.NewAuthHandler(db, sessionService, credentialService)
	usersHandler := handlers.NewUsersHandler(db, directoryService)

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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
