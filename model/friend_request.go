package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
)

// FriendRequest is unique per unordered pair via PairKey, whatever the direction.
type FriendRequest struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	RequesterID string    `gorm:"not null;size:36;index" json:"requesterId"`
	RecipientID string    `gorm:"not null;size:36;index" json:"recipientId"`
	PairKey     string    `gorm:"not null;uniqueIndex" json:"-"`
	Status      string    `gorm:"not null;index" json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r *FriendRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PairKey == "" {
		r.PairKey = PairKey(r.RequesterID, r.RecipientID)
	}
	return nil
}

func (r *FriendRequest) Counterpart(userID string) string {
	if r.RequesterID == userID {
		return r.RecipientID
	}
	return r.RequesterID
}

func (r *FriendRequest) Involves(userID string) bool {
	return r.RequesterID == userID || r.RecipientID == userID
}
