package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MessageNone                  = "none"
	MessageFriendRequestAccepted = "friend_request_accepted"
	MessageGroupCreated          = "group_created"
	MessageGroupNameChanged      = "group_name_changed"
	MessageGroupLeaderChanged    = "group_leader_changed"
)

// Message is append only. SenderID is nil for system messages.
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	InboxID   string    `gorm:"not null;size:36;index:idx_messages_inbox_created,priority:1" json:"inboxId"`
	Content   string    `json:"content"`
	SenderID  *string   `gorm:"size:36" json:"senderId,omitempty"`
	IsSystem  bool      `gorm:"not null;default:false" json:"isSystem"`
	Type      string    `gorm:"not null" json:"type"`
	CreatedAt time.Time `gorm:"index:idx_messages_inbox_created,priority:2" json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Type == "" {
		m.Type = MessageNone
	}
	return nil
}
