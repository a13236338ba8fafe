package event

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "in.log")
	f, err := openLog(path)
	require.NoError(t, err)

	require.NoError(t, writeLog(f, EventLogData{Time: 1, Service: QueueAPI, Action: "bot.broadcast", Data: `{"content":"hi"}`}))
	require.NoError(t, writeLog(f, EventLogData{Time: 2, Service: QueueAPI, Action: "messages.insert", Data: `{}`}))
	require.NoError(t, f.Close())

	records, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "bot.broadcast", records[0].Action)
	assert.Equal(t, `{"content":"hi"}`, records[0].Data)
	assert.Equal(t, int64(2), records[1].Time)
}

func TestReadLogRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.log")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0600))

	_, err := ReadLog(path)
	assert.Error(t, err)
}

func TestReplayInFeedsListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.log")
	f, err := openLog(path)
	require.NoError(t, err)
	require.NoError(t, writeLog(f, EventLogData{Service: QueueAPI, Action: "bot.broadcast", Data: "{}"}))
	require.NoError(t, writeLog(f, EventLogData{Service: "unknown", Action: "x", Data: "{}"}))
	require.NoError(t, f.Close())

	ch := make(chan EventChannelData, 4)
	out := EventChannelOutData{Send: false, Log: false}
	require.NoError(t, ReplayIn(path, map[string]chan EventChannelData{QueueAPI: ch}, out))

	require.Len(t, ch, 1)
	got := <-ch
	assert.Equal(t, "bot.broadcast", got.Action)
	assert.Equal(t, out, got.Out)
}

func TestBusEmitEncodesPayload(t *testing.T) {
	var (
		gotQueue, gotAction string
		gotData             []byte
	)
	bus := NewBus(QueueEvents, slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus.publish = func(service, action string, data []byte, logged bool) error {
		gotQueue, gotAction, gotData = service, action, data
		assert.True(t, logged)
		return nil
	}

	bus.Emit("friend_request.sent", map[string]string{"id": "r1"})

	assert.Equal(t, QueueEvents, gotQueue)
	assert.Equal(t, "friend_request.sent", gotAction)
	assert.JSONEq(t, `{"id":"r1"}`, string(gotData))
}

func TestBusEmitSwallowsFailures(t *testing.T) {
	bus := NewBus(QueueEvents, slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus.publish = func(string, string, []byte, bool) error { return errors.New("broker down") }

	assert.NotPanics(t, func() { bus.Emit("inbox.message", struct{}{}) })
}
