package service

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"net"
	"time"

	"chat-service/apperr"
	"chat-service/database"
	"chat-service/pubsub"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Publisher receives committed changes for live subscriptions.
type Publisher interface {
	Publish(changes ...pubsub.Change)
}

// Emitter receives domain events for the event bus.
type Emitter interface {
	Emit(action string, payload any)
}

type Options struct {
	DB      *gorm.DB
	Broker  Publisher
	Events  Emitter
	Logger  *slog.Logger
	Timeout time.Duration
	Now     func() time.Time
}

// Service implements presence, relationships, groups, conversations and the
// message log on top of one gorm store.
type Service struct {
	db      *gorm.DB
	broker  Publisher
	events  Emitter
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	locks    *database.KeyedMutex
	presence *connTable
}

func New(opts Options) *Service {
	s := &Service{
		db:       opts.DB,
		broker:   opts.Broker,
		events:   opts.Events,
		log:      opts.Logger,
		timeout:  opts.Timeout,
		now:      opts.Now,
		locks:    database.NewKeyedMutex(),
		presence: newConnTable(),
	}
	if s.broker == nil {
		s.broker = nopPublisher{}
	}
	if s.events == nil {
		s.events = nopEmitter{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type nopPublisher struct{}

func (nopPublisher) Publish(...pubsub.Change) {}

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) {}

// store returns a session bound to a bounded context.
func (s *Service) store(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// commit runs after a mutation is durable.
func (s *Service) commit(action string, payload any, changes ...pubsub.Change) {
	s.broker.Publish(changes...)
	if action != "" {
		s.events.Emit(action, payload)
	}
}

// fail passes domain errors through and turns store errors into transient or
// internal failures. Causes are logged, never returned to the caller verbatim.
func (s *Service) fail(op string, err error) error {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}

	err = errors.Wrap(err, op)
	if isTransient(err) {
		s.log.Warn("store unavailable", slog.String("op", op), slog.Any("error", err))
		return apperr.Transient(err)
	}
	s.log.Error("store failure", slog.String("op", op), slog.Any("error", err))
	return apperr.Internal(err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
