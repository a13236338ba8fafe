package service

import (
	"context"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"

	"gorm.io/gorm"
)

// Subscriber is the live connection a publication streams to.
type Subscriber interface {
	UserID() string
	Subscribe(id string, q pubsub.Query, load func() ([]pubsub.Record, error)) error
}

var nothing = pubsub.Query{Match: func(any) bool { return false }}

// empty completes a subscription that may see nothing, with a bare ready.
func empty(conn Subscriber, subID, collection string) error {
	q := nothing
	q.Collection = collection
	return conn.Subscribe(subID, q, nil)
}

// SubscribeSessions streams the sessions of userIDs.
func (s *Service) SubscribeSessions(ctx context.Context, conn Subscriber, subID string, userIDs []string) error {
	if conn.UserID() == "" {
		return empty(conn, subID, CollectionSessions)
	}
	ids := unique(userIDs)
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	q := pubsub.Query{
		Collection: CollectionSessions,
		Match: func(doc any) bool {
			session, ok := doc.(model.Session)
			if !ok {
				return false
			}
			_, ok = set[session.UserID]
			return ok
		},
	}
	return conn.Subscribe(subID, q, func() ([]pubsub.Record, error) {
		sessions, err := s.FindSessions(ctx, ids)
		if err != nil {
			return nil, err
		}
		records := make([]pubsub.Record, 0, len(sessions))
		for _, session := range sessions {
			records = append(records, pubsub.Record{ID: session.ID, Doc: session})
		}
		return records, nil
	})
}

// SubscribeInboxes streams the inboxes the connection's user is a member of.
func (s *Service) SubscribeInboxes(ctx context.Context, conn Subscriber, subID string) error {
	userID := conn.UserID()
	if userID == "" {
		return empty(conn, subID, CollectionInboxes)
	}

	q := pubsub.Query{
		Collection: CollectionInboxes,
		Match: func(doc any) bool {
			inbox, ok := doc.(model.Inbox)
			return ok && inbox.HasMember(userID)
		},
	}
	return conn.Subscribe(subID, q, func() ([]pubsub.Record, error) {
		db, cancel := s.store(ctx)
		defer cancel()

		var inboxes []model.Inbox
		err := db.Preload("Members").
			Where("id IN (?)", memberOf(db, userID)).
			Order("updated_at DESC").
			Find(&inboxes).Error
		if err != nil {
			return nil, s.fail("publications.SubscribeInboxes", err)
		}
		records := make([]pubsub.Record, 0, len(inboxes))
		for _, inbox := range inboxes {
			inbox.SyncMemberIDs()
			records = append(records, pubsub.Record{ID: inbox.ID, Doc: inbox})
		}
		return records, nil
	})
}

// SubscribeMessages streams the messages of one inbox, rendered for the
// subscriber. Non members get an empty subscription, and a member who leaves
// loses the subscription.
func (s *Service) SubscribeMessages(ctx context.Context, conn Subscriber, subID, inboxID string) error {
	viewer := conn.UserID()
	if viewer == "" {
		return empty(conn, subID, CollectionMessages)
	}

	db, cancel := s.store(ctx)
	inbox, err := s.loadInbox(db, inboxID)
	var render func(model.Message) model.Message
	if err == nil && inbox.HasMember(viewer) {
		render, err = s.renderer(db, inbox, viewer)
	}
	cancel()
	if err != nil {
		if err == apperr.ErrInboxNotFound {
			return empty(conn, subID, CollectionMessages)
		}
		return s.fail("publications.SubscribeMessages", err)
	}
	if render == nil {
		return empty(conn, subID, CollectionMessages)
	}

	q := pubsub.Query{
		Collection: CollectionMessages,
		Match: func(doc any) bool {
			msg, ok := doc.(model.Message)
			return ok && msg.InboxID == inbox.ID
		},
		Transform: func(doc any) any {
			return render(doc.(model.Message))
		},
		// Leaving or disbanding the inbox ends the feed.
		Watch: CollectionInboxes,
		Revoke: func(ch pubsub.Change) bool {
			if ch.ID != inbox.ID {
				return false
			}
			if ch.Removed {
				return true
			}
			updated, ok := ch.Doc.(model.Inbox)
			return ok && !updated.HasMember(viewer)
		},
	}
	return conn.Subscribe(subID, q, func() ([]pubsub.Record, error) {
		db, cancel := s.store(ctx)
		defer cancel()
		return s.messageRecords(db, inbox.ID)
	})
}

func (s *Service) messageRecords(db *gorm.DB, inboxID string) ([]pubsub.Record, error) {
	var messages []model.Message
	if err := db.Where("inbox_id = ?", inboxID).Order("created_at DESC").Find(&messages).Error; err != nil {
		return nil, s.fail("publications.SubscribeMessages", err)
	}
	records := make([]pubsub.Record, 0, len(messages))
	for _, msg := range messages {
		records = append(records, pubsub.Record{ID: msg.ID, Doc: msg})
	}
	return records, nil
}
