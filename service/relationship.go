package service

import (
	"context"
	"strings"
	"time"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"

	"gorm.io/gorm"
)

// FriendRequestView is a request from the point of view of one participant.
type FriendRequestView struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"`
	CreatedAt   time.Time            `json:"createdAt"`
	FriendSince *time.Time           `json:"friendSince,omitempty"`
	User        model.DisplayProfile `json:"user"`
}

func pairLock(a, b string) string {
	return "pair:" + model.PairKey(a, b)
}

func (s *Service) findPair(db *gorm.DB, a, b string) (*model.FriendRequest, error) {
	var request model.FriendRequest
	if err := db.Where("pair_key = ?", model.PairKey(a, b)).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func conflictFor(request *model.FriendRequest) error {
	if request.Status == model.FriendRequestAccepted {
		return apperr.ErrAlreadyFriends
	}
	return apperr.ErrDuplicateRequest
}

// SendRequest opens a pending request from requester to recipient. Any
// existing record for the pair, in either direction, is a conflict.
func (s *Service) SendRequest(ctx context.Context, requester, recipient string) (*model.FriendRequest, error) {
	if requester == "" {
		return nil, apperr.ErrNotAuthorized
	}
	if requester == recipient {
		return nil, apperr.ErrSelfRequest
	}
	unlock := s.locks.Lock(pairLock(requester, recipient))
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	var count int64
	if err := db.Model(&model.User{}).Where("id = ?", recipient).Count(&count).Error; err != nil {
		return nil, s.fail("relationship.SendRequest", err)
	}
	if count == 0 {
		return nil, apperr.ErrUserNotFound
	}

	existing, err := s.findPair(db, requester, recipient)
	if err == nil {
		return nil, conflictFor(existing)
	}
	if !notFound(err) {
		return nil, s.fail("relationship.SendRequest", err)
	}

	now := s.now()
	request := model.FriendRequest{
		RequesterID: requester,
		RecipientID: recipient,
		Status:      model.FriendRequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(&request).Error; err != nil {
		// another node won the unique pair key
		if existing, findErr := s.findPair(db, requester, recipient); findErr == nil {
			return nil, conflictFor(existing)
		}
		return nil, s.fail("relationship.SendRequest", err)
	}

	s.commit("friend_request.sent", request)
	return &request, nil
}

// Accept moves a pending request to accepted, then creates or reuses the
// private inbox of the pair and narrates the friendship in it.
func (s *Service) Accept(ctx context.Context, requestID, actingUser string) (*model.Inbox, error) {
	if actingUser == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var request model.FriendRequest
	if err := db.Where("id = ? AND status = ?", requestID, model.FriendRequestPending).First(&request).Error; err != nil {
		if notFound(err) {
			return nil, apperr.ErrRequestNotFound
		}
		return nil, s.fail("relationship.Accept", err)
	}
	if request.RecipientID != actingUser {
		return nil, apperr.ErrNotRecipient
	}

	unlock := s.locks.Lock(pairLock(request.RequesterID, request.RecipientID))
	defer unlock()

	var (
		inbox   *model.Inbox
		created bool
		notice  *model.Message
	)
	now := s.now()
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.FriendRequest{}).
			Where("id = ? AND status = ?", request.ID, model.FriendRequestPending).
			Updates(map[string]any{"status": model.FriendRequestAccepted, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRequestNotFound
		}

		var err error
		if inbox, created, err = s.getOrCreatePrivateInbox(tx, request.RequesterID, request.RecipientID); err != nil {
			return err
		}
		notice, err = s.appendSystem(tx, inbox.ID, model.MessageFriendRequestAccepted, "")
		return err
	})
	if err != nil {
		return nil, s.fail("relationship.Accept", err)
	}

	request.Status = model.FriendRequestAccepted
	request.UpdatedAt = now
	changes := []pubsub.Change{messageChange(notice)}
	if created {
		changes = append(changes, inboxChange(inbox))
	}
	s.commit("friend_request.accepted", request, changes...)
	return inbox, nil
}

// Reject withdraws a request. Only the requester may do so, whatever the
// status.
func (s *Service) Reject(ctx context.Context, requestID, actingUser string) error {
	if actingUser == "" {
		return apperr.ErrNotAuthorized
	}
	return s.deleteRequest(ctx, "relationship.Reject", "friend_request.rejected", requestID, func(r *model.FriendRequest) error {
		if r.RequesterID != actingUser {
			return apperr.ErrNotRequester
		}
		return nil
	})
}

// Unfriend deletes the record of a friendship either participant is part of.
func (s *Service) Unfriend(ctx context.Context, requestID, actingUser string) error {
	if actingUser == "" {
		return apperr.ErrNotAuthorized
	}
	return s.deleteRequest(ctx, "relationship.Unfriend", "friend.removed", requestID, func(r *model.FriendRequest) error {
		if !r.Involves(actingUser) {
			return apperr.ErrNotFriendship
		}
		return nil
	})
}

func (s *Service) deleteRequest(ctx context.Context, op, action, requestID string, allow func(*model.FriendRequest) error) error {
	db, cancel := s.store(ctx)
	defer cancel()

	var request model.FriendRequest
	if err := db.Where("id = ?", requestID).First(&request).Error; err != nil {
		if notFound(err) {
			return apperr.ErrRequestNotFound
		}
		return s.fail(op, err)
	}
	if err := allow(&request); err != nil {
		return err
	}

	unlock := s.locks.Lock(pairLock(request.RequesterID, request.RecipientID))
	defer unlock()

	if err := db.Where("id = ?", request.ID).Delete(&model.FriendRequest{}).Error; err != nil {
		return s.fail(op, err)
	}
	s.commit(action, request)
	return nil
}

// ListReceived returns pending requests addressed to userID.
func (s *Service) ListReceived(ctx context.Context, userID string) ([]FriendRequestView, error) {
	return s.listRequests(ctx, "relationship.ListReceived", userID, func(db *gorm.DB) *gorm.DB {
		return db.Where("recipient_id = ? AND status = ?", userID, model.FriendRequestPending)
	})
}

// ListSent returns pending requests userID has sent.
func (s *Service) ListSent(ctx context.Context, userID string) ([]FriendRequestView, error) {
	return s.listRequests(ctx, "relationship.ListSent", userID, func(db *gorm.DB) *gorm.DB {
		return db.Where("requester_id = ? AND status = ?", userID, model.FriendRequestPending)
	})
}

// ListAccepted returns the friends of userID.
func (s *Service) ListAccepted(ctx context.Context, userID string) ([]FriendRequestView, error) {
	return s.listRequests(ctx, "relationship.ListAccepted", userID, func(db *gorm.DB) *gorm.DB {
		return db.Where("(requester_id = ? OR recipient_id = ?) AND status = ?", userID, userID, model.FriendRequestAccepted)
	})
}

func (s *Service) listRequests(ctx context.Context, op, userID string, scope func(*gorm.DB) *gorm.DB) ([]FriendRequestView, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var requests []model.FriendRequest
	if err := scope(db.Model(&model.FriendRequest{})).Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, s.fail(op, err)
	}

	ids := make([]string, 0, len(requests))
	for i := range requests {
		ids = append(ids, requests[i].Counterpart(userID))
	}
	profiles, err := s.profiles(db, ids)
	if err != nil {
		return nil, s.fail(op, err)
	}

	views := make([]FriendRequestView, 0, len(requests))
	for _, r := range requests {
		view := FriendRequestView{
			ID:        r.ID,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
			User:      profiles[r.Counterpart(userID)],
		}
		if r.Status == model.FriendRequestAccepted {
			since := r.UpdatedAt
			view.FriendSince = &since
		}
		views = append(views, view)
	}
	return views, nil
}

// FindFriends matches term against the accepted friends of userID. An empty
// term lists them all.
func (s *Service) FindFriends(ctx context.Context, userID, term string) ([]model.DisplayProfile, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	query := db.Where("(id IN (SELECT recipient_id FROM friend_requests WHERE requester_id = ? AND status = ?) OR "+
		"id IN (SELECT requester_id FROM friend_requests WHERE recipient_id = ? AND status = ?))",
		userID, model.FriendRequestAccepted, userID, model.FriendRequestAccepted)
	if strings.TrimSpace(term) != "" {
		query = query.Where(matchUserSQL, map[string]any{"p": likePattern(term)})
	}

	var users []model.User
	if err := query.Order("username").Find(&users).Error; err != nil {
		return nil, s.fail("relationship.FindFriends", err)
	}
	result := make([]model.DisplayProfile, 0, len(users))
	for i := range users {
		result = append(result, model.Profile(users[i].ID, &users[i]))
	}
	return result, nil
}
