package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/studiobase/backend/internal/models"
)

// Token lifetimes are fixed constants rather than configuration so the
// security posture stays auditable.
const (
	TokenIssuer     = "studiobase"
	SessionTTL      = 7 * 24 * time.Hour
	ResetTokenTTL   = 60 * time.Minute
	VerificationTTL = 72 * time.Hour
)

// SessionClaims is the authorization snapshot embedded in a session token.
// It is advisory: RequireAuth re-reads the user row on every request, so
// stale claims never outlive a single round trip.
type SessionClaims struct {
	UserID        uuid.UUID          `json:"userID"`
	Email         string             `json:"email"`
	Roles         []string           `json:"roles"`
	Role          models.UserRole    `json:"role"`
	Permissions   models.Permissions `json:"permissions"`
	EmailVerified bool               `json:"emailVerified"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	SigningKey []byte // HS256 secret, required
	Issuer     string
	SessionTTL time.Duration
}

// TokenService signs and verifies session tokens. The signing key is
// injected once at construction; a process without a usable key must not
// come up at all.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("token signing key is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = TokenIssuer
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = SessionTTL
	}
	return &TokenService{cfg: cfg, now: time.Now}, nil
}

func (t *TokenService) SignSession(user *models.User) (string, error) {
	now := t.now()
	claims := SessionClaims{
		UserID:        user.ID,
		Email:         user.Email,
		Roles:         []string{string(user.Role)},
		Role:          user.Role,
		Permissions:   models.NormalizePermissions(user.Role, user.Permissions.Input()),
		EmailVerified: user.EmailVerified(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.SessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

// VerifySession checks signature, issuer and expiry. Every failure mode
// collapses into ErrInvalidSession so callers cannot distinguish a bad
// signature from an expired token.
func (t *TokenService) VerifySession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return t.cfg.SigningKey, nil
	},
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.UserID == uuid.Nil || claims.Email == "" {
		return nil, ErrInvalidSession
	}

	return claims, nil
}
