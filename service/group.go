package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const leaderCannotLeave = "You can't leave the group, because you are the leader!"

// Result is a soft outcome: a refused but expected business condition is
// reported with Result false and a nil error.
type Result struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

// InviteResult lists the invitations created by a best-effort fan-out and
// the recipients that could not be invited.
type InviteResult struct {
	Invitations []model.GroupInvitation `json:"invitations"`
	Failed      []string                `json:"failed"`
}

type CreateGroupResult struct {
	Group *model.Inbox `json:"group"`
	InviteResult
}

// InvitationView is an invitation annotated with its group and the other
// party: the sender for received invitations, the recipient for sent ones.
type InvitationView struct {
	ID        string               `json:"id"`
	GroupID   string               `json:"groupId"`
	GroupName string               `json:"groupName"`
	User      model.DisplayProfile `json:"user"`
	CreatedAt time.Time            `json:"createdAt"`
}

func groupLock(id string) string { return "inbox:" + id }

func (s *Service) loadGroup(db *gorm.DB, id string) (*model.Inbox, error) {
	inbox, err := s.loadInbox(db, id)
	if err != nil {
		if err == apperr.ErrInboxNotFound {
			return nil, apperr.ErrGroupNotFound
		}
		return nil, err
	}
	if !inbox.IsGroup() {
		return nil, apperr.ErrNotAGroup
	}
	return inbox, nil
}

// leaderGroup loads a group actingUser leads.
func (s *Service) leaderGroup(db *gorm.DB, id, actingUser string) (*model.Inbox, error) {
	group, err := s.loadGroup(db, id)
	if err != nil {
		return nil, err
	}
	if group.GroupLeader != actingUser {
		return nil, apperr.ErrNotGroupLeader
	}
	return group, nil
}

func (s *Service) addMember(tx *gorm.DB, group *model.Inbox, userID string) error {
	member := model.InboxMember{InboxID: group.ID, UserID: userID, CreatedAt: s.now()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
		return err
	}
	if !group.HasMember(userID) {
		group.Members = append(group.Members, member)
		group.SyncMemberIDs()
	}
	return nil
}

// CreateGroup creates a group led by creator and invites inviteeIDs one by
// one. Invitation failures do not undo the group.
func (s *Service) CreateGroup(ctx context.Context, creator, name string, inviteeIDs []string) (*CreateGroupResult, error) {
	if creator == "" {
		return nil, apperr.ErrNotAuthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.ErrEmptyGroupName
	}
	db, cancel := s.store(ctx)
	defer cancel()

	now := s.now()
	group := model.Inbox{
		Type:        model.InboxGroup,
		GroupName:   name,
		GroupLeader: creator,
		Members:     []model.InboxMember{{UserID: creator, CreatedAt: now}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var notice *model.Message
	err := db.Transaction(func(tx *gorm.DB) (err error) {
		if err = tx.Create(&group).Error; err != nil {
			return err
		}
		notice, err = s.appendSystem(tx, group.ID, model.MessageGroupCreated, fmt.Sprintf("Group %s has been created", name))
		return err
	})
	if err != nil {
		return nil, s.fail("group.CreateGroup", err)
	}
	group.SyncMemberIDs()
	s.commit("group.created", group, inboxChange(&group), messageChange(notice))

	var invitees []string
	for _, id := range unique(inviteeIDs) {
		if id != creator {
			invitees = append(invitees, id)
		}
	}
	return &CreateGroupResult{
		Group:        &group,
		InviteResult: s.invite(db, &group, creator, invitees),
	}, nil
}

// InviteMany sends one pending invitation per recipient. Existing pending
// invitations are not checked, so a recipient may hold several.
func (s *Service) InviteMany(ctx context.Context, groupID, inviter string, recipientIDs []string) (*InviteResult, error) {
	if inviter == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	group, err := s.loadGroup(db, groupID)
	if err != nil {
		return nil, s.fail("group.InviteMany", err)
	}
	if !group.HasMember(inviter) {
		return nil, apperr.ErrNotAMember
	}

	result := s.invite(db, group, inviter, unique(recipientIDs))
	return &result, nil
}

func (s *Service) invite(db *gorm.DB, group *model.Inbox, sender string, recipients []string) InviteResult {
	result := InviteResult{Invitations: []model.GroupInvitation{}, Failed: []string{}}
	if len(recipients) == 0 {
		return result
	}

	known := map[string]bool{}
	var ids []string
	if err := db.Model(&model.User{}).Where("id IN ?", recipients).Pluck("id", &ids).Error; err != nil {
		s.log.Warn("invite lookup failed", slog.String("group", group.ID), slog.Any("error", err))
		result.Failed = append(result.Failed, recipients...)
		return result
	}
	for _, id := range ids {
		known[id] = true
	}

	for _, recipient := range recipients {
		if !known[recipient] {
			result.Failed = append(result.Failed, recipient)
			continue
		}
		invitation := model.GroupInvitation{
			GroupID:     group.ID,
			SenderID:    sender,
			RecipientID: recipient,
			Status:      model.InvitationPending,
			CreatedAt:   s.now(),
		}
		if err := db.Create(&invitation).Error; err != nil {
			s.log.Warn("invitation failed",
				slog.String("group", group.ID),
				slog.String("recipient", recipient),
				slog.Any("error", err),
			)
			result.Failed = append(result.Failed, recipient)
			continue
		}
		result.Invitations = append(result.Invitations, invitation)
		s.commit("group.invited", invitation)
	}
	return result
}

// AcceptInvitation makes the recipient a member and consumes the invitation.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID, actingUser string) (*model.Inbox, error) {
	if actingUser == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var invitation model.GroupInvitation
	if err := db.Where("id = ? AND recipient_id = ?", invitationID, actingUser).First(&invitation).Error; err != nil {
		if notFound(err) {
			return nil, apperr.ErrInvitationNotFound
		}
		return nil, s.fail("group.AcceptInvitation", err)
	}

	unlock := s.locks.Lock(groupLock(invitation.GroupID))
	defer unlock()

	group, err := s.loadGroup(db, invitation.GroupID)
	if err != nil {
		if err == apperr.ErrGroupNotFound {
			// dangling invitation of a disbanded group
			if err := db.Where("id = ?", invitation.ID).Delete(&model.GroupInvitation{}).Error; err != nil {
				s.log.Warn("dangling invitation cleanup failed", slog.String("invitation", invitation.ID), slog.Any("error", err))
			}
		}
		return nil, s.fail("group.AcceptInvitation", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := s.addMember(tx, group, actingUser); err != nil {
			return err
		}
		if err := tx.Where("id = ?", invitation.ID).Delete(&model.GroupInvitation{}).Error; err != nil {
			return err
		}
		return s.touch(tx, group, nil)
	})
	if err != nil {
		return nil, s.fail("group.AcceptInvitation", err)
	}

	s.commit("group.joined", invitation, inboxChange(group))
	return group, nil
}

// DeclineInvitation removes an invitation addressed to actingUser.
func (s *Service) DeclineInvitation(ctx context.Context, invitationID, actingUser string) error {
	return s.removeInvitation(ctx, "group.DeclineInvitation", invitationID, actingUser, func(inv *model.GroupInvitation) error {
		if inv.RecipientID != actingUser {
			return apperr.ErrInvitationNotFound
		}
		return nil
	})
}

// CancelInvitation removes an invitation actingUser sent.
func (s *Service) CancelInvitation(ctx context.Context, invitationID, actingUser string) error {
	return s.removeInvitation(ctx, "group.CancelInvitation", invitationID, actingUser, func(inv *model.GroupInvitation) error {
		if inv.SenderID != actingUser {
			return apperr.ErrNotInvitationSender
		}
		return nil
	})
}

// RemoveInvitation declines or cancels, depending on which side of the
// invitation actingUser is on.
func (s *Service) RemoveInvitation(ctx context.Context, invitationID, actingUser string) error {
	return s.removeInvitation(ctx, "group.RemoveInvitation", invitationID, actingUser, func(inv *model.GroupInvitation) error {
		if inv.RecipientID != actingUser && inv.SenderID != actingUser {
			return apperr.ErrInvitationNotFound
		}
		return nil
	})
}

func (s *Service) removeInvitation(ctx context.Context, op, invitationID, actingUser string, allow func(*model.GroupInvitation) error) error {
	if actingUser == "" {
		return apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var invitation model.GroupInvitation
	if err := db.Where("id = ?", invitationID).First(&invitation).Error; err != nil {
		if notFound(err) {
			return apperr.ErrInvitationNotFound
		}
		return s.fail(op, err)
	}
	if err := allow(&invitation); err != nil {
		return err
	}
	if err := db.Where("id = ?", invitation.ID).Delete(&model.GroupInvitation{}).Error; err != nil {
		return s.fail(op, err)
	}
	s.commit("invitation.removed", invitation)
	return nil
}

// LeaveGroup removes a non-leader member. The leader gets a soft failure and
// membership is left untouched.
func (s *Service) LeaveGroup(ctx context.Context, groupID, actingUser string) (Result, error) {
	if actingUser == "" {
		return Result{}, apperr.ErrNotAuthorized
	}
	unlock := s.locks.Lock(groupLock(groupID))
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	group, err := s.loadGroup(db, groupID)
	if err != nil {
		return Result{}, s.fail("group.LeaveGroup", err)
	}
	if !group.HasMember(actingUser) {
		return Result{}, apperr.ErrNotAMember
	}
	if group.GroupLeader == actingUser {
		return Result{Result: false, Message: leaderCannotLeave}, nil
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("inbox_id = ? AND user_id = ?", group.ID, actingUser).Delete(&model.InboxMember{}).Error; err != nil {
			return err
		}
		return s.touch(tx, group, nil)
	})
	if err != nil {
		return Result{}, s.fail("group.LeaveGroup", err)
	}

	members := group.Members[:0]
	for _, m := range group.Members {
		if m.UserID != actingUser {
			members = append(members, m)
		}
	}
	group.Members = members
	group.SyncMemberIDs()

	s.commit("group.left", map[string]string{"groupId": group.ID, "userId": actingUser}, inboxChange(group))
	return Result{Result: true, Message: "You have left the group."}, nil
}

// ChangeLeader hands leadership to newLeader, adding them as a member when
// they are not one yet.
func (s *Service) ChangeLeader(ctx context.Context, groupID, actingUser, newLeader string) (*model.Inbox, error) {
	if actingUser == "" {
		return nil, apperr.ErrNotAuthorized
	}
	unlock := s.locks.Lock(groupLock(groupID))
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	group, err := s.leaderGroup(db, groupID, actingUser)
	if err != nil {
		return nil, s.fail("group.ChangeLeader", err)
	}
	var leader model.User
	if err := db.Where("id = ?", newLeader).First(&leader).Error; err != nil {
		if notFound(err) {
			return nil, apperr.ErrUserNotFound
		}
		return nil, s.fail("group.ChangeLeader", err)
	}

	var notice *model.Message
	err = db.Transaction(func(tx *gorm.DB) (err error) {
		if err = s.addMember(tx, group, leader.ID); err != nil {
			return err
		}
		if err = s.touch(tx, group, map[string]any{"group_leader": leader.ID}); err != nil {
			return err
		}
		name := model.Profile(leader.ID, &leader).Name
		notice, err = s.appendSystem(tx, group.ID, model.MessageGroupLeaderChanged, fmt.Sprintf("Group leader has been changed to %s", name))
		return err
	})
	if err != nil {
		return nil, s.fail("group.ChangeLeader", err)
	}
	group.GroupLeader = leader.ID

	s.commit("group.leader_changed", group, inboxChange(group), messageChange(notice))
	return group, nil
}

// RenameGroup is leader only.
func (s *Service) RenameGroup(ctx context.Context, groupID, actingUser, name string) (*model.Inbox, error) {
	if actingUser == "" {
		return nil, apperr.ErrNotAuthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.ErrEmptyGroupName
	}
	unlock := s.locks.Lock(groupLock(groupID))
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	group, err := s.leaderGroup(db, groupID, actingUser)
	if err != nil {
		return nil, s.fail("group.RenameGroup", err)
	}

	var notice *model.Message
	err = db.Transaction(func(tx *gorm.DB) (err error) {
		if err = s.touch(tx, group, map[string]any{"group_name": name}); err != nil {
			return err
		}
		notice, err = s.appendSystem(tx, group.ID, model.MessageGroupNameChanged, fmt.Sprintf("Group name has been changed to %s", name))
		return err
	})
	if err != nil {
		return nil, s.fail("group.RenameGroup", err)
	}
	group.GroupName = name

	s.commit("group.renamed", group, inboxChange(group), messageChange(notice))
	return group, nil
}

// DisbandGroup deletes a group with its members, messages and invitations.
func (s *Service) DisbandGroup(ctx context.Context, groupID, actingUser string) error {
	if actingUser == "" {
		return apperr.ErrNotAuthorized
	}
	unlock := s.locks.Lock(groupLock(groupID))
	defer unlock()

	db, cancel := s.store(ctx)
	defer cancel()

	group, err := s.leaderGroup(db, groupID, actingUser)
	if err != nil {
		return s.fail("group.DisbandGroup", err)
	}

	var messageIDs []string
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Message{}).Where("inbox_id = ?", group.ID).Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("inbox_id = ?", group.ID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", group.ID).Delete(&model.GroupInvitation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("inbox_id = ?", group.ID).Delete(&model.InboxMember{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", group.ID).Delete(&model.Inbox{}).Error
	})
	if err != nil {
		return s.fail("group.DisbandGroup", err)
	}

	changes := make([]pubsub.Change, 0, len(messageIDs)+1)
	for _, id := range messageIDs {
		changes = append(changes, pubsub.Change{Collection: CollectionMessages, ID: id, Removed: true})
	}
	changes = append(changes, inboxRemoved(group.ID))
	s.commit("group.disbanded", map[string]string{"groupId": group.ID}, changes...)
	return nil
}

// ListGroups returns the groups userID is a member of.
func (s *Service) ListGroups(ctx context.Context, userID string) ([]InboxView, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var groups []model.Inbox
	err := db.Preload("Members").
		Where("type = ? AND id IN (?)", model.InboxGroup, memberOf(db, userID)).
		Order("group_name").
		Find(&groups).Error
	if err != nil {
		return nil, s.fail("group.ListGroups", err)
	}
	views, err := s.annotate(db, userID, groups)
	if err != nil {
		return nil, s.fail("group.ListGroups", err)
	}
	return views, nil
}

func (s *Service) ListReceivedInvitations(ctx context.Context, userID string) ([]InvitationView, error) {
	return s.listInvitations(ctx, "group.ListReceivedInvitations", userID, "recipient_id", func(inv model.GroupInvitation) string {
		return inv.SenderID
	})
}

func (s *Service) ListSentInvitations(ctx context.Context, userID string) ([]InvitationView, error) {
	return s.listInvitations(ctx, "group.ListSentInvitations", userID, "sender_id", func(inv model.GroupInvitation) string {
		return inv.RecipientID
	})
}

func (s *Service) listInvitations(ctx context.Context, op, userID, column string, other func(model.GroupInvitation) string) ([]InvitationView, error) {
	if userID == "" {
		return nil, apperr.ErrNotAuthorized
	}
	db, cancel := s.store(ctx)
	defer cancel()

	var invitations []model.GroupInvitation
	if err := db.Where(column+" = ?", userID).Order("created_at DESC").Find(&invitations).Error; err != nil {
		return nil, s.fail(op, err)
	}

	var groupIDs, userIDs []string
	for _, inv := range invitations {
		groupIDs = append(groupIDs, inv.GroupID)
		userIDs = append(userIDs, other(inv))
	}
	var groups []model.Inbox
	if len(groupIDs) > 0 {
		if err := db.Where("id IN ?", unique(groupIDs)).Find(&groups).Error; err != nil {
			return nil, s.fail(op, err)
		}
	}
	names := make(map[string]string, len(groups))
	for _, g := range groups {
		names[g.ID] = g.GroupName
	}
	profiles, err := s.profiles(db, userIDs)
	if err != nil {
		return nil, s.fail(op, err)
	}

	views := make([]InvitationView, 0, len(invitations))
	for _, inv := range invitations {
		views = append(views, InvitationView{
			ID:        inv.ID,
			GroupID:   inv.GroupID,
			GroupName: names[inv.GroupID],
			User:      profiles[other(inv)],
			CreatedAt: inv.CreatedAt,
		})
	}
	return views, nil
}
