package router

import (
	"chat-service/controller"
	"chat-service/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func Rest(app *fiber.App, auth *controller.Auth, chat *controller.Chat, enforcer *casbin.Enforcer) {
	api := app.Group("/v1", logger.New())

	// Auth
	authGroup := api.Group("/auth")
	authGroup.Post("/signup", auth.Signup)
	authGroup.Post("/signin", auth.Signin)
	authGroup.Post("/token/renew", auth.TokenRenew)
	authGroup.Post("/2fa/secret", middleware.JWT(), middleware.OTP(), auth.OtpSecret)
	authGroup.Post("/2fa/verify", middleware.JWT(), middleware.OTP(), auth.OtpVerify)
	authGroup.Post("/2fa/validate", middleware.JWT(), auth.OtpValidate)
	authGroup.Post("/2fa/disable", middleware.JWT(), middleware.OTP(), auth.OtpDisable)

	protected := []fiber.Handler{middleware.JWT(), middleware.OTP()}

	// Users
	users := api.Group("/users", protected...)
	users.Get("/profile", chat.Profile)
	users.Get("/search", chat.SearchUsers)

	// Friends
	friends := api.Group("/friends", protected...)
	friends.Get("", chat.Friends)
	friends.Get("/search", chat.SearchFriends)
	friends.Post("/requests", chat.SendRequest)
	friends.Get("/requests/received", chat.ReceivedRequests)
	friends.Get("/requests/sent", chat.SentRequests)
	friends.Post("/requests/:id/accept", chat.AcceptRequest)
	friends.Delete("/requests/:id", chat.RejectRequest)
	friends.Delete("/:id", chat.Unfriend)

	// Inboxes
	inboxes := api.Group("/inboxes", protected...)
	inboxes.Get("", chat.Inboxes)
	inboxes.Post("/lookup", chat.LookupInbox)
	inboxes.Get("/:id/header", chat.InboxHeader)
	inboxes.Get("/:id/messages", chat.Messages)
	inboxes.Post("/:id/messages", chat.AppendMessage)

	// Groups
	groups := api.Group("/groups", protected...)
	groups.Get("", chat.Groups)
	groups.Post("", chat.CreateGroup)
	groups.Post("/:id/leave", chat.LeaveGroup)
	groups.Put("/:id/name", chat.RenameGroup)
	groups.Put("/:id/leader", chat.ChangeLeader)
	groups.Delete("/:id", chat.DisbandGroup)
	groups.Post("/:id/invitations", chat.Invite)

	// Invitations
	invitations := api.Group("/invitations", protected...)
	invitations.Get("/received", chat.ReceivedInvitations)
	invitations.Get("/sent", chat.SentInvitations)
	invitations.Post("/:id/accept", chat.AcceptInvitation)
	invitations.Delete("/:id", chat.RemoveInvitation)

	// Sessions
	api.Get("/sessions", middleware.JWT(), middleware.OTP(), chat.Sessions)

	// Admin
	admin := api.Group("/admin", middleware.JWT(), middleware.OTP(), middleware.RBAC(enforcer))
	admin.Post("/bot/broadcast", chat.BotBroadcast)
}
