package service

import (
	"context"
	"strings"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"

	"gorm.io/gorm"
)

const CollectionMessages = "messages"

func messageChange(msg *model.Message) pubsub.Change {
	return pubsub.Change{Collection: CollectionMessages, ID: msg.ID, Doc: *msg}
}

// Append adds a user message to an inbox the sender belongs to and updates
// the inbox snapshot in the same transaction.
func (s *Service) Append(ctx context.Context, inboxID, senderID, content string) (*model.Message, error) {
	if senderID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperr.ErrEmptyContent
	}
	unlock := s.locks.Lock("inbox:" + inboxID)
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	inbox, err := s.loadInbox(db, inboxID)
	if err != nil {
		return nil, s.fail("messages.Append", err)
	}
	if !inbox.HasMember(senderID) {
		return nil, apperr.ErrNotInboxMember
	}

	msg := model.Message{
		InboxID:   inbox.ID,
		Content:   content,
		SenderID:  &senderID,
		Type:      model.MessageNone,
		CreatedAt: s.now(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return s.appendLastMessageSnapshot(tx, inbox, &msg)
	})
	if err != nil {
		return nil, s.fail("messages.Append", err)
	}

	s.commit("inbox.message", msg, messageChange(&msg), inboxChange(inbox))
	return &msg, nil
}

// appendSystem records a sender-less narration of a state change. It does
// not touch the inbox snapshot.
func (s *Service) appendSystem(tx *gorm.DB, inboxID, kind, content string) (*model.Message, error) {
	msg := model.Message{
		InboxID:   inboxID,
		Content:   content,
		IsSystem:  true,
		Type:      kind,
		CreatedAt: s.now(),
	}
	if err := tx.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListForInbox returns the messages of an inbox newest first, rendered for
// viewer.
func (s *Service) ListForInbox(ctx context.Context, inboxID, viewer string) ([]model.Message, error) {
	if viewer == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	inbox, err := s.loadInbox(db, inboxID)
	if err != nil {
		return nil, s.fail("messages.ListForInbox", err)
	}
	if !inbox.HasMember(viewer) {
		return nil, apperr.ErrNotInboxMember
	}

	messages := []model.Message{}
	if err := db.Where("inbox_id = ?", inbox.ID).Order("created_at DESC").Find(&messages).Error; err != nil {
		return nil, s.fail("messages.ListForInbox", err)
	}

	render, err := s.renderer(db, inbox, viewer)
	if err != nil {
		return nil, s.fail("messages.ListForInbox", err)
	}
	for i := range messages {
		messages[i] = render(messages[i])
	}
	return messages, nil
}

func friendsWith(name string) string {
	return "You are now friends with " + name
}

// renderer resolves the viewer dependent parts of messages once per inbox.
// Friendship notices are stored empty and named at read time.
func (s *Service) renderer(db *gorm.DB, inbox *model.Inbox, viewer string) (func(model.Message) model.Message, error) {
	var counterpart string
	if !inbox.IsGroup() {
		p, err := s.profile(db, inbox.Counterpart(viewer))
		if err != nil {
			return nil, err
		}
		counterpart = p.Name
	}
	return func(m model.Message) model.Message {
		if m.Type == model.MessageFriendRequestAccepted {
			m.Content = friendsWith(counterpart)
		}
		return m
	}, nil
}
