package service

import (
	"testing"

	"chat-service/apperr"
	"chat-service/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendUpdatesSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	inbox := f.friends(t, "u1", "u2")

	msg, err := f.svc.Append(f.ctx, inbox.ID, "u1", "hi bob")
	require.NoError(t, err)
	assert.False(t, msg.IsSystem)
	assert.Equal(t, model.MessageNone, msg.Type)

	stored, err := f.svc.loadInbox(f.db, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, stored.LastMessage.MessageID)
	assert.Equal(t, "hi bob", stored.LastMessage.Content)
	assert.Equal(t, "u1", stored.LastMessage.SenderID)
	require.NotNil(t, stored.LastMessage.SentAt)
	assert.True(t, stored.LastMessage.SentAt.Equal(msg.CreatedAt))
	assert.True(t, stored.UpdatedAt.Equal(msg.CreatedAt))

	assert.Len(t, f.rec.collection(CollectionMessages), 2)
	assert.Contains(t, f.rec.actions(), "inbox.message")
}

func TestAppendFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	f.user(t, "u3", "carol", "Carol")
	inbox := f.friends(t, "u1", "u2")

	_, err := f.svc.Append(f.ctx, "missing", "u1", "hi")
	assert.ErrorIs(t, err, apperr.ErrInboxNotFound)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = f.svc.Append(f.ctx, inbox.ID, "u3", "hi")
	assert.ErrorIs(t, err, apperr.ErrNotInboxMember)

	_, err = f.svc.Append(f.ctx, inbox.ID, "u1", " \n ")
	assert.ErrorIs(t, err, apperr.ErrEmptyContent)

	_, err = f.svc.Append(f.ctx, inbox.ID, "", "hi")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	assert.Equal(t, int64(1), f.count(t, &model.Message{}, "inbox_id = ?", inbox.ID))
}

func TestSystemMessageSkipsSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	inbox := f.friends(t, "u1", "u2")

	stored, err := f.svc.loadInbox(f.db, inbox.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LastMessage.MessageID)
	assert.Nil(t, stored.LastMessage.SentAt)
}

func TestListForInboxNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	f.user(t, "u3", "carol", "Carol")
	inbox := f.friends(t, "u1", "u2")
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.svc.Append(f.ctx, inbox.ID, "u2", text)
		require.NoError(t, err)
	}

	messages, err := f.svc.ListForInbox(f.ctx, inbox.ID, "u1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "three", messages[0].Content)
	assert.Equal(t, "one", messages[2].Content)
	assert.Equal(t, "You are now friends with Bob", messages[3].Content)

	_, err = f.svc.ListForInbox(f.ctx, inbox.ID, "u3")
	assert.ErrorIs(t, err, apperr.ErrNotInboxMember)
}

func TestFriendshipNoticeFollowsProfileChanges(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	bob := f.user(t, "u2", "bob", "Bob")
	inbox := f.friends(t, "u1", "u2")

	require.NoError(t, f.db.Model(bob).Update("name", "Robert").Error)

	messages, err := f.svc.ListForInbox(f.ctx, inbox.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "You are now friends with Robert", messages[0].Content)
}

func TestListForUserAnnotates(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	f.user(t, "u3", "carol", "Carol")
	withBob := f.friends(t, "u1", "u2")
	withCarol := f.friends(t, "u1", "u3")
	created, err := f.svc.CreateGroup(f.ctx, "u1", "Team", nil)
	require.NoError(t, err)
	_, err = f.svc.OnLogin(f.ctx, "u2", "c2")
	require.NoError(t, err)

	_, err = f.svc.Append(f.ctx, withBob.ID, "u2", "latest")
	require.NoError(t, err)

	views, err := f.svc.ListForUser(f.ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.Equal(t, withBob.ID, views[0].ID)
	assert.Equal(t, "Bob", views[0].Counterpart.Name)
	assert.True(t, views[0].Online)
	assert.Equal(t, created.Group.ID, views[1].ID)
	assert.Equal(t, "Alice", views[1].Leader.Name)
	assert.Equal(t, withCarol.ID, views[2].ID)
	assert.False(t, views[2].Online)

	views, err = f.svc.ListForUser(f.ctx, "u3")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Alice", views[0].Counterpart.Name)
}

func TestHeaderInfo(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	f.user(t, "u3", "carol", "Carol")
	inbox := f.friends(t, "u1", "u2")

	header, err := f.svc.HeaderInfo(f.ctx, inbox.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "Alice", header.Counterpart.Name)
	assert.False(t, header.Counterpart.IsSystem)

	_, err = f.svc.HeaderInfo(f.ctx, inbox.ID, "u3")
	assert.ErrorIs(t, err, apperr.ErrNotInboxMember)

	_, err = f.svc.HeaderInfo(f.ctx, "missing", "u3")
	assert.ErrorIs(t, err, apperr.ErrInboxNotFound)
}

func TestFindInboxContainingAny(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")
	f.user(t, "u3", "carol", "Carol")
	withBob := f.friends(t, "u1", "u2")
	f.friends(t, "u1", "u3")

	found, err := f.svc.FindInboxContainingAny(f.ctx, "u1", []string{"u3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u3"}, found.MemberIDs)

	// any overlap qualifies: the oldest inbox of u1 wins
	found, err = f.svc.FindInboxContainingAny(f.ctx, "u1", []string{"u1", "u3"})
	require.NoError(t, err)
	assert.Equal(t, withBob.ID, found.ID)

	_, err = f.svc.FindInboxContainingAny(f.ctx, "u1", []string{"nobody"})
	assert.ErrorIs(t, err, apperr.ErrInboxNotFound)
}

func TestGetOrCreatePrivateInbox(t *testing.T) {
	f := newFixture(t, nil)
	f.user(t, "u1", "alice", "Alice")
	f.user(t, "u2", "bob", "Bob")

	first, err := f.svc.GetOrCreatePrivateInbox(f.ctx, "u2", "u1")
	require.NoError(t, err)
	second, err := f.svc.GetOrCreatePrivateInbox(f.ctx, "u1", "u2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), f.count(t, &model.Inbox{}, "1 = 1"))
	assert.Len(t, f.rec.collection(CollectionInboxes), 1)
}
