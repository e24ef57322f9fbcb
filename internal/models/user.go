package models

import "time"

const (
	UserStatusInvited = "invited"
	UserStatusActive  = "active"
)

type User struct {
	BaseModel
	Email        string      `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name         *string     `json:"name,omitempty" gorm:"type:varchar(200)"`
	PasswordHash string      `json:"-" gorm:"type:text;not null"`
	Role         UserRole    `json:"role" gorm:"type:varchar(20);not null;default:'standard'"`
	Permissions  Permissions `json:"permissions" gorm:"embedded"`
	// Status is a free-text label ("invited", "active", ...), not an enum;
	// deactivation is tracked separately via DeactivatedAt.
	Status                string     `json:"status" gorm:"type:varchar(40);not null;default:'active'"`
	EmailVerifiedAt       *time.Time `json:"emailVerifiedAt,omitempty"`
	DeactivatedAt         *time.Time `json:"deactivatedAt,omitempty"`
	LastLoginAt           *time.Time `json:"lastLoginAt,omitempty"`
	InvitationSentAt      *time.Time `json:"invitationSentAt,omitempty"`
	VerificationToken     *string    `json:"-" gorm:"type:varchar(128);index"`
	VerificationExpiresAt *time.Time `json:"-"`
}

func (u *User) Active() bool {
	return u.DeactivatedAt == nil
}

func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}
