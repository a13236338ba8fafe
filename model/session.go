package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session holds the presence of one user. Online implies ConnectionID is set.
type Session struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"uniqueIndex;not null;size:36" json:"userId"`
	ConnectionID *string   `gorm:"index" json:"connectionId"`
	Online       bool      `gorm:"not null;default:false" json:"online"`
	LastActivity time.Time `json:"lastActivity"`
	LastLogin    time.Time `json:"lastLogin"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
