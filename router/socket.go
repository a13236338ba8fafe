package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"chat-service/apperr"
	"chat-service/model"
	"chat-service/pubsub"
	"chat-service/service"
	"chat-service/socketio"

	"github.com/zishang520/socket.io/v2/socket"
)

// Subscription names accepted by the sub event.
const (
	SubSessions = "sessions"
	SubInboxes  = "inboxes"
	SubMessages = "messages"
)

type SubRequest struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

type SessionsParams struct {
	UserIDs []string `json:"userIds"`
}

type MessagesParams struct {
	InboxID string `json:"inboxId"`
}

type UnsubRequest struct {
	ID string `json:"id"`
}

type MessagesInsertRequest struct {
	InboxID string `json:"inboxId"`
	Content string `json:"content"`
}

// Live serves subscriptions and message sends over socket connections.
type Live struct {
	Service *service.Service
	Broker  *pubsub.Broker
	Logger  *slog.Logger
	Timeout time.Duration
}

func (l *Live) context() (context.Context, context.CancelFunc) {
	if l.Timeout <= 0 {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	return context.WithTimeout(context.Background(), l.Timeout)
}

// Connection is the live side of one socket.
type Connection interface {
	service.Subscriber
	ID() string
	Closed() bool
	Close()
}

// Login marks the connection's user online. When the socket went away while
// the session was written, the session is closed again.
func (l *Live) Login(conn Connection) {
	if conn.UserID() == "" {
		return
	}
	ctx, cancel := l.context()
	defer cancel()

	if _, err := l.Service.OnLogin(ctx, conn.UserID(), conn.ID()); err != nil {
		l.Logger.Warn("presence login failed", slog.String("user", conn.UserID()), slog.Any("error", err))
		return
	}
	if conn.Closed() {
		l.Service.OnConnectionClose(ctx, conn.ID())
	}
}

// Logout frees the connection's subscriptions and marks its session offline.
func (l *Live) Logout(conn Connection) {
	conn.Close()
	ctx, cancel := l.context()
	defer cancel()
	l.Service.OnConnectionClose(ctx, conn.ID())
}

// Subscribe starts the named publication on conn.
func (l *Live) Subscribe(ctx context.Context, conn service.Subscriber, req SubRequest) error {
	if req.ID == "" {
		return apperr.Invalid("Subscription id is required")
	}
	switch req.Name {
	case SubSessions:
		params := SessionsParams{}
		if err := decodeParams(req.Params, &params); err != nil {
			return err
		}
		return l.Service.SubscribeSessions(ctx, conn, req.ID, params.UserIDs)
	case SubInboxes:
		return l.Service.SubscribeInboxes(ctx, conn, req.ID)
	case SubMessages:
		params := MessagesParams{}
		if err := decodeParams(req.Params, &params); err != nil {
			return err
		}
		return l.Service.SubscribeMessages(ctx, conn, req.ID, params.InboxID)
	default:
		return apperr.Invalid("Unknown subscription " + req.Name)
	}
}

// Insert appends a message on behalf of the connection's user.
func (l *Live) Insert(ctx context.Context, conn service.Subscriber, req MessagesInsertRequest) (*model.Message, error) {
	return l.Service.Append(ctx, req.InboxID, conn.UserID(), req.Content)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Invalid("Review your input")
	}
	return nil
}

// decodeArg converts the first socket.io argument into v.
func decodeArg(args []interface{}, v any) error {
	if len(args) == 0 {
		return apperr.Invalid("Review your input")
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return apperr.Invalid("Review your input")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("Review your input")
	}
	return nil
}

func asAppError(err error) *apperr.AppError {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return &apperr.AppError{Code: appErr.Code, Message: appErr.Message}
	}
	return &apperr.AppError{Code: apperr.CodeInternal, Message: apperr.Message(err)}
}

func Socket(server *socket.Server, live *Live) {
	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)
		connID := string(client.Id())
		userID := socketio.Principal(client)

		conn := live.Broker.Connect(connID, userID, socketio.NewSink(client))

		client.On("disconnect", func(...interface{}) {
			live.Logout(conn)
		})

		live.Login(conn)

		client.On("sub", func(args ...interface{}) {
			req := SubRequest{}
			err := decodeArg(args, &req)
			if err == nil {
				ctx, cancel := live.context()
				err = live.Subscribe(ctx, conn, req)
				cancel()
			}
			if err != nil {
				conn.Reject(req.ID, asAppError(err))
			}
		})

		client.On("unsub", func(args ...interface{}) {
			req := UnsubRequest{}
			if err := decodeArg(args, &req); err != nil {
				return
			}
			if !conn.Unsubscribe(req.ID) {
				conn.Reject(req.ID, nil)
			}
		})

		client.On("messages_insert", func(args ...interface{}) {
			req := MessagesInsertRequest{}
			err := decodeArg(args, &req)
			var msg *model.Message
			if err == nil {
				ctx, cancel := live.context()
				msg, err = live.Insert(ctx, conn, req)
				cancel()
			}
			if err != nil {
				client.Emit("messages_insert", map[string]any{
					"status":  "error",
					"message": apperr.Message(err),
					"code":    apperr.CodeOf(err),
					"data":    nil,
				})
				return
			}
			client.Emit("messages_insert", map[string]any{
				"status":  "success",
				"message": nil,
				"data":    msg,
			})
		})
	})
}
