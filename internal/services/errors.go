package services

import "errors"

// Domain failures surfaced to handlers. Cryptographic and existence details
// deliberately collapse into these coarse labels: "user not found" and
// "wrong password" are both ErrInvalidCredentials, and every way a reset or
// verification token can be unusable is ErrInvalidOrExpiredToken.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidSession        = errors.New("invalid session")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrAccountUnverified     = errors.New("email address not verified")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrEmailTaken            = errors.New("email already registered")
	ErrLastAdmin             = errors.New("workspace must retain at least one active administrator")
	ErrNoChanges             = errors.New("no changes supplied")
)
