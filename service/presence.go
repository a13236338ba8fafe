package service

import (
	"context"
	"log/slog"
	"sync"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const CollectionSessions = "sessions"

// connTable maps live connection ids to the user that logged in on them.
type connTable struct {
	mu    sync.RWMutex
	users map[string]string
}

func newConnTable() *connTable {
	return &connTable{users: make(map[string]string)}
}

func (t *connTable) set(connID, userID string) {
	t.mu.Lock()
	t.users[connID] = userID
	t.mu.Unlock()
}

func (t *connTable) take(connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	userID, ok := t.users[connID]
	delete(t.users, connID)
	return userID, ok
}

func (t *connTable) get(connID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	userID, ok := t.users[connID]
	return userID, ok
}

// ConnectionUser reports the user logged in on connID.
func (s *Service) ConnectionUser(connID string) (string, bool) {
	return s.presence.get(connID)
}

// OnLogin marks userID online on connID, creating the session on first use.
func (s *Service) OnLogin(ctx context.Context, userID, connID string) (*model.Session, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	now := s.now()
	session := model.Session{
		UserID:       userID,
		ConnectionID: &connID,
		Online:       true,
		LastActivity: now,
		LastLogin:    now,
		CreatedAt:    now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"connection_id", "online", "last_activity", "last_login"}),
	}).Create(&session).Error
	if err != nil {
		return nil, s.fail("presence.OnLogin", err)
	}

	// The upsert may have kept an older row id.
	var stored model.Session
	if err := db.Where("user_id = ?", userID).First(&stored).Error; err != nil {
		return nil, s.fail("presence.OnLogin", err)
	}

	s.presence.set(connID, userID)
	s.commit("session.online", stored, pubsub.Change{Collection: CollectionSessions, ID: stored.ID, Doc: stored})
	return &stored, nil
}

// OnConnectionClose marks the session owning connID offline. Unknown
// connections are ignored and store failures are only logged.
func (s *Service) OnConnectionClose(ctx context.Context, connID string) {
	s.presence.take(connID)
	if connID == "" {
		return
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var session model.Session
	if err := db.Where("connection_id = ?", connID).First(&session).Error; err != nil {
		if !notFound(err) {
			s.log.Warn("presence close lookup failed", slog.String("conn", connID), slog.Any("error", err))
		}
		return
	}

	now := s.now()
	res := db.Model(&model.Session{}).
		Where("id = ? AND connection_id = ?", session.ID, connID).
		Updates(map[string]any{
			"online":        false,
			"connection_id": nil,
			"last_activity": now,
		})
	if res.Error != nil {
		s.log.Warn("presence close update failed", slog.String("conn", connID), slog.Any("error", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		// a newer login took the session over
		return
	}

	session.Online = false
	session.ConnectionID = nil
	session.LastActivity = now
	s.commit("session.offline", session, pubsub.Change{Collection: CollectionSessions, ID: session.ID, Doc: session})
}

// IsOnline reports the online flag of userID. No session means offline.
func (s *Service) IsOnline(ctx context.Context, userID string) (bool, error) {
	db, cancel := s.store(ctx)
	defer cancel()

	var session model.Session
	if err := db.Where("user_id = ?", userID).First(&session).Error; err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, s.fail("presence.IsOnline", err)
	}
	return session.Online, nil
}

func (s *Service) FindSessions(ctx context.Context, userIDs []string) ([]model.Session, error) {
	db, cancel := s.store(ctx)
	defer cancel()
	return s.findSessions(db, userIDs)
}

func (s *Service) findSessions(db *gorm.DB, userIDs []string) ([]model.Session, error) {
	sessions := []model.Session{}
	userIDs = unique(userIDs)
	if len(userIDs) == 0 {
		return sessions, nil
	}
	if err := db.Where("user_id IN ?", userIDs).Find(&sessions).Error; err != nil {
		return nil, s.fail("presence.FindSessions", err)
	}
	return sessions, nil
}
