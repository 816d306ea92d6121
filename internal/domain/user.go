package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

type User struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	FullName        string     `gorm:"size:255;not null" json:"full_name"`
	Email           string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash    string     `gorm:"size:255;not null" json:"-"`
	Role            Role       `gorm:"size:16;not null;default:customer" json:"role"`
	AvatarURL       string     `gorm:"size:512" json:"avatar_url,omitempty"`
	Phone           string     `gorm:"size:32" json:"phone,omitempty"`
	Address         string     `gorm:"size:512" json:"address,omitempty"`
	EmailVerifiedAt *time.Time `gorm:"index" json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

func (u *User) IsVerified() bool { return u.EmailVerifiedAt != nil }
