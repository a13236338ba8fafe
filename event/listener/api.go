package listener

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chat-service/bot"
	"chat-service/event"
	"chat-service/model"

	"github.com/pkg/errors"
)

const (
	ActionBotBroadcast   = "bot.broadcast"
	ActionMessagesInsert = "messages.insert"
)

var (
	ApiChannel = make(chan event.EventChannelData)
)

type Messages interface {
	Append(ctx context.Context, inboxID, senderID, content string) (*model.Message, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, content string) (*bot.Report, error)
}

type BotBroadcastInput struct {
	Content string `json:"content"`
}

type MessagesInsertInput struct {
	InboxID  string `json:"inboxId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
}

// API handles commands arriving on the api queue.
type API struct {
	Messages Messages
	Bot      Broadcaster
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Api consumes ApiChannel until it is closed.
func Api(api *API) {
	for ev := range ApiChannel {
		if err := api.Handle(context.Background(), ev); err != nil {
			api.Logger.Warn("api event failed", slog.String("action", ev.Action), slog.Any("error", err))
		}
	}
}

// Handle runs one command. Replayed events that must not be acted upon are
// skipped.
func (a *API) Handle(ctx context.Context, ev event.EventChannelData) error {
	if !ev.Out.Send {
		a.Logger.Debug("skipping replayed event", slog.String("action", ev.Action))
		return nil
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	switch ev.Action {
	case ActionBotBroadcast:
		input := BotBroadcastInput{}
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &input); err != nil {
				return errors.Wrap(err, "listener.Api: bot.broadcast")
			}
		}
		_, err := a.Bot.Broadcast(ctx, input.Content)
		return err

	case ActionMessagesInsert:
		input := MessagesInsertInput{}
		if err := json.Unmarshal(ev.Data, &input); err != nil {
			return errors.Wrap(err, "listener.Api: messages.insert")
		}
		_, err := a.Messages.Append(ctx, input.InboxID, input.SenderID, input.Content)
		return err

	default:
		a.Logger.Info("unhandled api event", slog.String("action", ev.Action))
		return nil
	}
}
