package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"chat-service/apperr"
	"chat-service/model"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const DefaultExpression = "0 3 * * *"

var ErrNothingToSend = apperr.Invalid("Broadcast content is empty")

type Config struct {
	Name       string
	Picture    string
	Expression string
	Content    string
	// Timeout bounds one scheduled broadcast.
	Timeout time.Duration
}

// Chat is the part of the messaging core the bot drives.
type Chat interface {
	EnsureSystemUser(ctx context.Context, name, picture string) (*model.User, error)
	HumanUserIDs(ctx context.Context) ([]string, error)
	GetOrCreatePrivateInbox(ctx context.Context, a, b string) (*model.Inbox, error)
	Append(ctx context.Context, inboxID, senderID, content string) (*model.Message, error)
}

// Report summarizes one broadcast.
type Report struct {
	Sent   int      `json:"sent"`
	Failed []string `json:"failed"`
}

// Bot is the system account that periodically posts into the private inbox
// it shares with every user.
type Bot struct {
	chat Chat
	cfg  Config
	log  *slog.Logger
	cron *cron.Cron
}

func New(chat Chat, cfg Config, log *slog.Logger) *Bot {
	if cfg.Expression == "" {
		cfg.Expression = DefaultExpression
	}
	if cfg.Name == "" {
		cfg.Name = "Bot"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Bot{chat: chat, cfg: cfg, log: log}
}

// Ensure returns the bot account, creating it on first use.
func (b *Bot) Ensure(ctx context.Context) (*model.User, error) {
	user, err := b.chat.EnsureSystemUser(ctx, b.cfg.Name, b.cfg.Picture)
	return user, errors.Wrap(err, "bot.Ensure")
}

// Broadcast posts content, or the configured content when empty, to every
// non system user. Per user failures are reported, not returned.
func (b *Bot) Broadcast(ctx context.Context, content string) (*Report, error) {
	if strings.TrimSpace(content) == "" {
		content = b.cfg.Content
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrNothingToSend
	}

	bot, err := b.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	users, err := b.chat.HumanUserIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "bot.Broadcast")
	}

	report := &Report{Failed: []string{}}
	for _, userID := range users {
		if err := b.send(ctx, bot.ID, userID, content); err != nil {
			b.log.Warn("bot message failed", slog.String("user", userID), slog.Any("error", err))
			report.Failed = append(report.Failed, userID)
			continue
		}
		report.Sent++
	}
	b.log.Info("bot broadcast done", slog.Int("sent", report.Sent), slog.Int("failed", len(report.Failed)))
	return report, nil
}

func (b *Bot) send(ctx context.Context, botID, userID, content string) error {
	inbox, err := b.chat.GetOrCreatePrivateInbox(ctx, botID, userID)
	if err != nil {
		return err
	}
	_, err = b.chat.Append(ctx, inbox.ID, botID, content)
	return err
}

// Start schedules the broadcast on the configured cron expression.
func (b *Bot) Start() error {
	if b.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(b.cfg.Expression, func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
		defer cancel()
		if _, err := b.Broadcast(ctx, ""); err != nil {
			b.log.Error("scheduled bot broadcast failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return errors.Wrapf(err, "bot.Start: expression %q", b.cfg.Expression)
	}
	c.Start()
	b.cron = c
	b.log.Info("bot scheduled", slog.String("expression", b.cfg.Expression))
	return nil
}

// Stop halts the schedule and waits for a running broadcast.
func (b *Bot) Stop() {
	if b.cron == nil {
		return
	}
	<-b.cron.Stop().Done()
	b.cron = nil
}
