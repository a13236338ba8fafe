package controller

import (
	"context"
	"strings"

	"chat-service/bot"
	"chat-service/middleware"
	"chat-service/model"
	"chat-service/service"

	"github.com/gofiber/fiber/v2"
)

// Broadcaster sends one bot message to every user.
type Broadcaster interface {
	Broadcast(ctx context.Context, content string) (*bot.Report, error)
}

// Chat exposes the messaging core over REST. Every handler runs behind the
// JWT middleware and acts as the token's principal.
type Chat struct {
	Service *service.Service
	Bot     Broadcaster
}

type SendRequestInput struct {
	UserID string `json:"userId" validate:"required"`
}

type LookupInboxInput struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
}

type AppendMessageInput struct {
	Content string `json:"content" validate:"required"`
}

type CreateGroupInput struct {
	Name    string   `json:"name" validate:"required,max=64"`
	UserIDs []string `json:"userIds" validate:"dive,required"`
}

type RenameGroupInput struct {
	Name string `json:"name" validate:"required,max=64"`
}

type ChangeLeaderInput struct {
	UserID string `json:"userId" validate:"required"`
}

type InviteInput struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,dive,required"`
}

type BroadcastInput struct {
	Content string `json:"content" validate:"max=4096"`
}

func (h *Chat) Profile(c *fiber.Ctx) error {
	user, err := h.Service.User(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}

	return success(c, fiber.Map{
		"id":       user.ID,
		"created":  user.CreatedAt.Unix(),
		"username": user.Username,
		"email":    user.Email,
		"role":     user.Role,
		"otp":      user.Otp_enabled,
		"profile":  model.Profile(user.ID, user),
	})
}

func (h *Chat) SearchUsers(c *fiber.Ctx) error {
	users, err := h.Service.SearchUsers(c.UserContext(), middleware.UserID(c), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return success(c, users)
}

// Friends

func (h *Chat) SendRequest(c *fiber.Ctx) error {
	input := new(SendRequestInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}
	request, err := h.Service.SendRequest(c.UserContext(), middleware.UserID(c), input.UserID)
	if err != nil {
		return fail(c, err)
	}
	return success(c, request)
}

func (h *Chat) ReceivedRequests(c *fiber.Ctx) error {
	requests, err := h.Service.ListReceived(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, requests)
}

func (h *Chat) SentRequests(c *fiber.Ctx) error {
	requests, err := h.Service.ListSent(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, requests)
}

func (h *Chat) AcceptRequest(c *fiber.Ctx) error {
	inbox, err := h.Service.Accept(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, inbox)
}

func (h *Chat) RejectRequest(c *fiber.Ctx) error {
	if err := h.Service.Reject(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

func (h *Chat) Unfriend(c *fiber.Ctx) error {
	if err := h.Service.Unfriend(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

func (h *Chat) Friends(c *fiber.Ctx) error {
	friends, err := h.Service.ListAccepted(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, friends)
}

func (h *Chat) SearchFriends(c *fiber.Ctx) error {
	friends, err := h.Service.FindFriends(c.UserContext(), middleware.UserID(c), c.Query("q"))
	if err != nil {
		return fail(c, err)
	}
	return success(c, friends)
}

// Inboxes

func (h *Chat) Inboxes(c *fiber.Ctx) error {
	inboxes, err := h.Service.ListForUser(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, inboxes)
}

func (h *Chat) LookupInbox(c *fiber.Ctx) error {
	input := new(LookupInboxInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}
	inbox, err := h.Service.FindInboxContainingAny(c.UserContext(), middleware.UserID(c), input.UserIDs)
	if err != nil {
		return fail(c, err)
	}
	return success(c, inbox)
}

func (h *Chat) InboxHeader(c *fiber.Ctx) error {
	header, err := h.Service.HeaderInfo(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, header)
}

func (h *Chat) Messages(c *fiber.Ctx) error {
	messages, err := h.Service.ListForInbox(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, messages)
}

func (h *Chat) AppendMessage(c *fiber.Ctx) error {
	input := new(AppendMessageInput)
	if err := c.BodyParser(input); err != nil {
		return fail(c, errInput)
	}
	// Empty content is reported by the message log itself.
	msg, err := h.Service.Append(c.UserContext(), c.Params("id"), middleware.UserID(c), input.Content)
	if err != nil {
		return fail(c, err)
	}
	return success(c, msg)
}

// Groups

func (h *Chat) Groups(c *fiber.Ctx) error {
	groups, err := h.Service.ListGroups(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, groups)
}

func (h *Chat) CreateGroup(c *fiber.Ctx) error {
	input := new(CreateGroupInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}
	result, err := h.Service.CreateGroup(c.UserContext(), middleware.UserID(c), strings.TrimSpace(input.Name), input.UserIDs)
	if err != nil {
		return fail(c, err)
	}
	return success(c, result)
}

func (h *Chat) LeaveGroup(c *fiber.Ctx) error {
	result, err := h.Service.LeaveGroup(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, result)
}

func (h *Chat) RenameGroup(c *fiber.Ctx) error {
	input := new(RenameGroupInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}
	group, err := h.Service.RenameGroup(c.UserContext(), c.Params("id"), middleware.UserID(c), strings.TrimSpace(input.Name))
	if err != nil {
		return fail(c, err)
	}
	return success(c, group)
}

func (h *Chat) ChangeLeader(c *fiber.Ctx) error {
	input := new(ChangeLeaderInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}
	group, err := h.Service.ChangeLeader(c.UserContext(), c.Params("id"), middleware.UserID(c), input.UserID)
	if err != nil {
		return fail(c, err)
	}
	return success(c, group)
}

func (h *Chat) DisbandGroup(c *fiber.Ctx) error {
	if err := h.Service.DisbandGroup(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

func (h *Chat) Invite(c *fiber.Ctx) error {
	input := new(InviteInput)
	if err := parse(c, input); err != nil {
		return fail(c, err)
	}
	result, err := h.Service.InviteMany(c.UserContext(), c.Params("id"), middleware.UserID(c), input.UserIDs)
	if err != nil {
		return fail(c, err)
	}
	return success(c, result)
}

// Invitations

func (h *Chat) ReceivedInvitations(c *fiber.Ctx) error {
	invitations, err := h.Service.ListReceivedInvitations(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, invitations)
}

func (h *Chat) SentInvitations(c *fiber.Ctx) error {
	invitations, err := h.Service.ListSentInvitations(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, invitations)
}

func (h *Chat) AcceptInvitation(c *fiber.Ctx) error {
	group, err := h.Service.AcceptInvitation(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return success(c, group)
}

func (h *Chat) RemoveInvitation(c *fiber.Ctx) error {
	if err := h.Service.RemoveInvitation(c.UserContext(), c.Params("id"), middleware.UserID(c)); err != nil {
		return fail(c, err)
	}
	return success(c, nil)
}

// Sessions

func (h *Chat) Sessions(c *fiber.Ctx) error {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	sessions, err := h.Service.FindSessions(c.UserContext(), ids)
	if err != nil {
		return fail(c, err)
	}
	return success(c, sessions)
}

// Admin

func (h *Chat) BotBroadcast(c *fiber.Ctx) error {
	input := new(BroadcastInput)
	if len(c.Body()) > 0 {
		if err := parse(c, input); err != nil {
			return fail(c, err)
		}
	}
	report, err := h.Bot.Broadcast(c.UserContext(), input.Content)
	if err != nil {
		return fail(c, err)
	}
	return success(c, report)
}
