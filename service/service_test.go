package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-service/database"
	"chat-service/model"
	"chat-service/pubsub"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// clock advances one second per reading, so every write gets a distinct,
// ordered timestamp.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recorder struct {
	mu      sync.Mutex
	changes []pubsub.Change
	events  []string
}

func (r *recorder) Publish(changes ...pubsub.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
}

func (r *recorder) Emit(action string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, action)
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) collection(name string) []pubsub.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pubsub.Change
	for _, c := range r.changes {
		if c.Collection == name {
			out = append(out, c)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	rec    *recorder
	clock  *clock
	ctx    context.Context
	broker Publisher
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newFixture(t *testing.T, broker Publisher) *fixture {
	t.Helper()
	db := openDB(t)
	rec := &recorder{}
	if broker == nil {
		broker = rec
	}
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(Options{
		DB:      db,
		Broker:  broker,
		Events:  rec,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout: 5 * time.Second,
		Now:     c.Now,
	})
	return &fixture{svc: svc, db: db, rec: rec, clock: c, ctx: context.Background(), broker: broker}
}

func (f *fixture) user(t *testing.T, id, username, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:        id,
		Username:  username,
		Email:     username + "@example.com",
		Password:  "x",
		Name:      name,
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

// friends makes a and b friends and returns their private inbox.
func (f *fixture) friends(t *testing.T, a, b string) *model.Inbox {
	t.Helper()
	request, err := f.svc.SendRequest(f.ctx, a, b)
	require.NoError(t, err)
	inbox, err := f.svc.Accept(f.ctx, request.ID, b)
	require.NoError(t, err)
	return inbox
}

func (f *fixture) count(t *testing.T, m any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}
