package service

import (
	"context"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"

	"gorm.io/gorm"
)

const CollectionInboxes = "inboxes"

// InboxView is an inbox annotated for one viewer: counterpart profile and
// presence for private inboxes, leader and member profiles for groups.
type InboxView struct {
	model.Inbox
	Counterpart *model.DisplayProfile  `json:"counterpart,omitempty"`
	Online      bool                   `json:"online"`
	Leader      *model.DisplayProfile  `json:"leader,omitempty"`
	Profiles    []model.DisplayProfile `json:"profiles,omitempty"`
}

func inboxChange(inbox *model.Inbox) pubsub.Change {
	return pubsub.Change{Collection: CollectionInboxes, ID: inbox.ID, Doc: *inbox}
}

func inboxRemoved(id string) pubsub.Change {
	return pubsub.Change{Collection: CollectionInboxes, ID: id, Removed: true}
}

func memberOf(db *gorm.DB, userID string) *gorm.DB {
	return db.Model(&model.InboxMember{}).Select("inbox_id").Where("user_id = ?", userID)
}

func (s *Service) loadInbox(db *gorm.DB, id string) (*model.Inbox, error) {
	var inbox model.Inbox
	if err := db.Preload("Members").Where("id = ?", id).First(&inbox).Error; err != nil {
		if notFound(err) {
			return nil, apperr.ErrInboxNotFound
		}
		return nil, err
	}
	inbox.SyncMemberIDs()
	return &inbox, nil
}

// getOrCreatePrivateInbox returns the private inbox of the pair, creating it
// when missing. It must run inside tx.
func (s *Service) getOrCreatePrivateInbox(tx *gorm.DB, a, b string) (*model.Inbox, bool, error) {
	key := model.PairKey(a, b)

	var existing model.Inbox
	err := tx.Preload("Members").Where("pair_key = ?", key).First(&existing).Error
	if err == nil {
		existing.SyncMemberIDs()
		return &existing, false, nil
	}
	if !notFound(err) {
		return nil, false, err
	}

	now := s.now()
	inbox := model.Inbox{
		Type:      model.InboxPrivate,
		PairKey:   &key,
		Members:   []model.InboxMember{{UserID: a, CreatedAt: now}, {UserID: b, CreatedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Savepoint, so a lost race on the pair key leaves tx usable.
	createErr := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&inbox).Error
	})
	if createErr == nil {
		inbox.SyncMemberIDs()
		return &inbox, true, nil
	}

	var winner model.Inbox
	if err := tx.Preload("Members").Where("pair_key = ?", key).First(&winner).Error; err != nil {
		return nil, false, createErr
	}
	winner.SyncMemberIDs()
	return &winner, false, nil
}

// GetOrCreatePrivateInbox returns the single private inbox of users a and b.
func (s *Service) GetOrCreatePrivateInbox(ctx context.Context, a, b string) (*model.Inbox, error) {
	if a == "" || b == "" || a == b {
		return nil, apperr.ErrSelfRequest
	}
	unlock := s.locks.Lock("pair:" + model.PairKey(a, b))
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	var (
		inbox   *model.Inbox
		created bool
	)
	err := db.Transaction(func(tx *gorm.DB) (err error) {
		inbox, created, err = s.getOrCreatePrivateInbox(tx, a, b)
		return err
	})
	if err != nil {
		return nil, s.fail("conversation.GetOrCreatePrivateInbox", err)
	}
	if created {
		s.commit("inbox.created", inbox, inboxChange(inbox))
	}
	return inbox, nil
}

// FindInboxContainingAny returns the oldest inbox sharing at least one member
// with userIDs. Any overlap qualifies, so a set that is not an exact pair may
// resolve to an unrelated conversation.
func (s *Service) FindInboxContainingAny(ctx context.Context, actingUser string, userIDs []string) (*model.Inbox, error) {
	if actingUser == "" {
		return nil, apperr.ErrNotAuthorized
	}
	userIDs = unique(userIDs)
	if len(userIDs) == 0 {
		return nil, apperr.ErrInboxNotFound
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var inbox model.Inbox
	err := db.Preload("Members").
		Where("id IN (?)", db.Model(&model.InboxMember{}).Select("inbox_id").Where("user_id IN ?", userIDs)).
		Order("created_at ASC").
		First(&inbox).Error
	if err != nil {
		if notFound(err) {
			return nil, apperr.ErrInboxNotFound
		}
		return nil, s.fail("conversation.FindInboxContainingAny", err)
	}
	inbox.SyncMemberIDs()
	return &inbox, nil
}

// appendLastMessageSnapshot denormalizes msg onto its inbox. Callers run it
// in the transaction that appended msg.
func (s *Service) appendLastMessageSnapshot(tx *gorm.DB, inbox *model.Inbox, msg *model.Message) error {
	sentAt := msg.CreatedAt
	snapshot := model.LastMessage{
		MessageID: msg.ID,
		Content:   msg.Content,
		SentAt:    &sentAt,
	}
	if msg.SenderID != nil {
		snapshot.SenderID = *msg.SenderID
	}

	err := tx.Model(&model.Inbox{}).Where("id = ?", inbox.ID).Updates(map[string]any{
		"last_message_id": snapshot.MessageID,
		"last_content":    snapshot.Content,
		"last_sender_id":  snapshot.SenderID,
		"last_sent_at":    snapshot.SentAt,
		"updated_at":      sentAt,
	}).Error
	if err != nil {
		return err
	}
	inbox.LastMessage = snapshot
	inbox.UpdatedAt = sentAt
	return nil
}

// touch bumps updated_at after a membership or metadata change.
func (s *Service) touch(tx *gorm.DB, inbox *model.Inbox, fields map[string]any) error {
	now := s.now()
	if fields == nil {
		fields = map[string]any{}
	}
	fields["updated_at"] = now
	if err := tx.Model(&model.Inbox{}).Where("id = ?", inbox.ID).Updates(fields).Error; err != nil {
		return err
	}
	inbox.UpdatedAt = now
	return nil
}

// ListForUser returns the viewer's inboxes, most recently active first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]InboxView, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var inboxes []model.Inbox
	err := db.Preload("Members").
		Where("id IN (?)", memberOf(db, userID)).
		Order("updated_at DESC").
		Find(&inboxes).Error
	if err != nil {
		return nil, s.fail("conversation.ListForUser", err)
	}

	views, err := s.annotate(db, userID, inboxes)
	if err != nil {
		return nil, s.fail("conversation.ListForUser", err)
	}
	return views, nil
}

// HeaderInfo describes one inbox for a member.
func (s *Service) HeaderInfo(ctx context.Context, inboxID, userID string) (*InboxView, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	inbox, err := s.loadInbox(db, inboxID)
	if err != nil {
		return nil, s.fail("conversation.HeaderInfo", err)
	}
	if !inbox.HasMember(userID) {
		return nil, apperr.ErrNotInboxMember
	}

	views, err := s.annotate(db, userID, []model.Inbox{*inbox})
	if err != nil {
		return nil, s.fail("conversation.HeaderInfo", err)
	}
	return &views[0], nil
}

func (s *Service) annotate(db *gorm.DB, viewer string, inboxes []model.Inbox) ([]InboxView, error) {
	var ids, counterparts []string
	for i := range inboxes {
		inboxes[i].SyncMemberIDs()
		ids = append(ids, inboxes[i].MemberIDs...)
		if !inboxes[i].IsGroup() {
			counterparts = append(counterparts, inboxes[i].Counterpart(viewer))
		}
	}

	profiles, err := s.profiles(db, ids)
	if err != nil {
		return nil, err
	}
	sessions, err := s.findSessions(db, counterparts)
	if err != nil {
		return nil, err
	}
	online := make(map[string]bool, len(sessions))
	for _, session := range sessions {
		online[session.UserID] = session.Online
	}

	views := make([]InboxView, 0, len(inboxes))
	for _, inbox := range inboxes {
		view := InboxView{Inbox: inbox}
		if inbox.IsGroup() {
			leader := profiles[inbox.GroupLeader]
			if leader.ID == "" {
				leader = model.Profile(inbox.GroupLeader, nil)
			}
			view.Leader = &leader
			for _, id := range inbox.MemberIDs {
				view.Profiles = append(view.Profiles, profiles[id])
			}
		} else {
			id := inbox.Counterpart(viewer)
			counterpart := profiles[id]
			view.Counterpart = &counterpart
			view.Online = online[id]
		}
		views = append(views, view)
	}
	return views, nil
}
