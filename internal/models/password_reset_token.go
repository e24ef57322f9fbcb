package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordResetToken stores only the SHA-256 digest of the reset secret;
// the plaintext leaves the process exactly once, inside the reset email.
// The partial unique index on UserID holds the invariant of at most one
// unconsumed token per user: two concurrent requests can both pass the
// delete under read-committed isolation, but only one insert commits.
type PasswordResetToken struct {
	BaseModel
	UserID      uuid.UUID  `json:"userID" gorm:"type:uuid;not null;uniqueIndex:uniq_password_reset_tokens_live_user,where:used_at IS NULL"`
	TokenDigest string     `json:"-" gorm:"type:varchar(64);not null;uniqueIndex"`
	ExpiresAt   time.Time  `json:"expiresAt" gorm:"not null;index"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
	User        User       `json:"-" gorm:"foreignKey:UserID"`
}
