package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	InboxPrivate = "private"
	InboxGroup   = "group"
)

// LastMessage is the denormalized snapshot of the newest user message.
type LastMessage struct {
	MessageID string     `gorm:"size:36" json:"id,omitempty"`
	Content   string     `json:"content,omitempty"`
	SenderID  string     `gorm:"size:36" json:"senderId,omitempty"`
	SentAt    *time.Time `json:"createdAt,omitempty"`
}

type Inbox struct {
	ID   string `gorm:"primaryKey;size:36" json:"id"`
	Type string `gorm:"not null;index" json:"type"`

	// PairKey is set for private inboxes only; the unique index keeps one
	// private inbox per unordered pair.
	PairKey *string `gorm:"uniqueIndex" json:"-"`

	GroupName   string `json:"groupName,omitempty"`
	GroupLeader string `gorm:"size:36;index" json:"groupLeader,omitempty"`

	LastMessage LastMessage `gorm:"embedded;embeddedPrefix:last_" json:"lastMessage"`

	Members   []InboxMember `gorm:"foreignKey:InboxID;constraint:OnDelete:CASCADE" json:"-"`
	MemberIDs []string      `gorm:"-" json:"members"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type InboxMember struct {
	InboxID   string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time `json:"-"`
}

func (i *Inbox) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// AfterFind copies preloaded member rows into MemberIDs.
func (i *Inbox) AfterFind(tx *gorm.DB) error {
	if len(i.Members) > 0 {
		i.SyncMemberIDs()
	}
	return nil
}

func (i *Inbox) SyncMemberIDs() {
	ids := make([]string, 0, len(i.Members))
	for _, m := range i.Members {
		ids = append(ids, m.UserID)
	}
	sort.Strings(ids)
	i.MemberIDs = ids
}

func (i *Inbox) HasMember(userID string) bool {
	for _, id := range i.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (i *Inbox) IsGroup() bool { return i.Type == InboxGroup }

// Counterpart returns the other member of a private inbox.
func (i *Inbox) Counterpart(userID string) string {
	for _, id := range i.MemberIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// PairKey is the order independent key of two user ids.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
