package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DB     DBConfig
	Auth   AuthConfig
	Server ServerConfig
	SMTP   SMTPConfig
	Seed   SeedConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type AuthConfig struct {
	// TokenSecret signs session tokens. There is no fallback value; the
	// process refuses to start without one.
	TokenSecret string
}

type ServerConfig struct {
	Port        string
	FrontendURL string
}

type SMTPConfig struct {
	Addr     string // host:port; empty disables outbound mail
	From     string
	Username string
	Password string
}

type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "studiobase"),
			Password: getEnv("DB_PASSWORD", "studiobase_secret"),
			Name:     getEnv("DB_NAME", "studiobase"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			TokenSecret: os.Getenv("AUTH_TOKEN_SECRET"),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
		},
		SMTP: SMTPConfig{
			Addr:     os.Getenv("SMTP_ADDR"),
			From:     getEnv("SMTP_FROM", "no-reply@studiobase.local"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
		},
		Seed: SeedConfig{
			AdminEmail:    getEnv("SEED_ADMIN_EMAIL", "admin@studiobase.local"),
			AdminPassword: getEnv("SEED_ADMIN_PASSWORD", "admin123"),
		},
	}

	if cfg.Auth.TokenSecret == "" {
		return nil, errors.New("AUTH_TOKEN_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
