package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is owned by the identity side of the service. The messaging core only
// reads it, except for the bot account which is upserted at startup.
type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"-"`

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Role     string `json:"role"`

	// Profile
	Name   string `json:"name"`
	Avatar string `json:"avatar"`

	// Federated identity (google)
	GoogleName    string `json:"-"`
	GoogleEmail   string `json:"-"`
	GooglePicture string `json:"-"`

	IsSystem bool `gorm:"not null;default:false;index" json:"isSystem"`

	Otp_enabled bool   `gorm:"default:false;" json:"-"`
	Otp_secret  string `json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
