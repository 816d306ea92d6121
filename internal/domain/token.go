package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TokenType string

const (
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypePasswordReset     TokenType = "password_reset"
)

// Token is a single-use 7-digit action code mailed to the user. Codes are
// unique across both types so a verification code can never double as a
// reset code.
type Token struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	Code      string    `gorm:"size:7;uniqueIndex;not null" json:"-"`
	Type      TokenType `gorm:"size:32;not null" json:"type"`
	IsValid   bool      `gorm:"not null;default:true" json:"is_valid"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *Token) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (t *Token) Usable(now time.Time) bool {
	return t.IsValid && now.Before(t.ExpiresAt)
}
