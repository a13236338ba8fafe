package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const InvitationPending = "pending"

type GroupInvitation struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	GroupID     string    `gorm:"not null;size:36;index" json:"groupId"`
	SenderID    string    `gorm:"not null;size:36;index" json:"senderId"`
	RecipientID string    `gorm:"not null;size:36;index" json:"recipientId"`
	Status      string    `gorm:"not null" json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (g *GroupInvitation) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = InvitationPending
	}
	return nil
}
