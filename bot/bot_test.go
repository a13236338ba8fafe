package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"chat-service/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	bot      *model.User
	users    []string
	inboxes  map[string]string
	sent     map[string][]string
	failFor  string
	ensureCt int
}

func newFakeChat(users ...string) *fakeChat {
	return &fakeChat{users: users, inboxes: map[string]string{}, sent: map[string][]string{}}
}

func (f *fakeChat) EnsureSystemUser(_ context.Context, name, picture string) (*model.User, error) {
	f.ensureCt++
	if f.bot == nil {
		f.bot = &model.User{ID: "bot", Name: name, Avatar: picture, IsSystem: true}
	}
	return f.bot, nil
}

func (f *fakeChat) HumanUserIDs(context.Context) ([]string, error) { return f.users, nil }

func (f *fakeChat) GetOrCreatePrivateInbox(_ context.Context, a, b string) (*model.Inbox, error) {
	if b == f.failFor {
		return nil, errors.New("store down")
	}
	key := model.PairKey(a, b)
	if _, ok := f.inboxes[key]; !ok {
		f.inboxes[key] = "inbox-" + b
	}
	return &model.Inbox{ID: f.inboxes[key]}, nil
}

func (f *fakeChat) Append(_ context.Context, inboxID, senderID, content string) (*model.Message, error) {
	f.sent[inboxID] = append(f.sent[inboxID], senderID+":"+content)
	return &model.Message{InboxID: inboxID, Content: content}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBroadcastReachesEveryUser(t *testing.T) {
	chat := newFakeChat("u1", "u2")
	b := New(chat, Config{Name: "Daily", Content: "Good morning"}, quiet())

	report, err := b.Broadcast(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sent)
	assert.Empty(t, report.Failed)
	assert.Equal(t, []string{"bot:Good morning"}, chat.sent["inbox-u1"])
	assert.Equal(t, []string{"bot:Good morning"}, chat.sent["inbox-u2"])
	assert.Equal(t, "Daily", chat.bot.Name)
}

func TestBroadcastReusesInboxes(t *testing.T) {
	chat := newFakeChat("u1")
	b := New(chat, Config{Content: "x"}, quiet())

	_, err := b.Broadcast(context.Background(), "first")
	require.NoError(t, err)
	_, err = b.Broadcast(context.Background(), "second")
	require.NoError(t, err)

	assert.Len(t, chat.inboxes, 1)
	assert.Equal(t, []string{"bot:first", "bot:second"}, chat.sent["inbox-u1"])
}

func TestBroadcastReportsFailures(t *testing.T) {
	chat := newFakeChat("u1", "u2")
	chat.failFor = "u1"
	b := New(chat, Config{Content: "hi"}, quiet())

	report, err := b.Broadcast(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []string{"u1"}, report.Failed)
}

func TestBroadcastNeedsContent(t *testing.T) {
	b := New(newFakeChat("u1"), Config{}, quiet())

	_, err := b.Broadcast(context.Background(), " ")
	assert.Error(t, err)
}

func TestStartRejectsBadExpression(t *testing.T) {
	b := New(newFakeChat(), Config{Expression: "not a cron"}, quiet())
	assert.Error(t, b.Start())

	ok := New(newFakeChat(), Config{}, quiet())
	require.NoError(t, ok.Start())
	ok.Stop()
}
