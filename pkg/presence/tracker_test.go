package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chatflow/chatflow/pkg/model"
)

type broadcastCall struct {
	chatID  string
	kind    model.EventKind
	payload model.UserStatusPayload
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *fakeBroadcaster) Publish(_ context.Context, chatID string, kind model.EventKind, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{
		chatID:  chatID,
		kind:    kind,
		payload: payload.(model.UserStatusPayload),
	})
	return nil
}

func (f *fakeBroadcaster) snapshot() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.calls...)
}

type fakeDirectory struct {
	chats map[string][]string
}

func (f *fakeDirectory) ChatsForUser(_ context.Context, userID string) ([]string, error) {
	return f.chats[userID], nil
}

func newTestTracker(bc *fakeBroadcaster) *Tracker {
	dir := &fakeDirectory{chats: map[string][]string{
		"u1": {"general", "random"},
		"u2": {"general"},
	}}
	return NewTracker(zerolog.Nop(), dir, bc, nil, 0)
}

func TestFirstConnectBroadcastsOnline(t *testing.T) {
	bc := &fakeBroadcaster{}
	tr := newTestTracker(bc)

	tr.OnConnect(context.Background(), "u1")

	require.True(t, tr.Online("u1"))
	calls := bc.snapshot()
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.Equal(t, model.EventUserOnline, call.kind)
		require.Equal(t, "u1", call.payload.UserID)
		require.Equal(t, "online", call.payload.Status)
		require.Nil(t, call.payload.LastSeen)
	}
	require.Equal(t, "general", calls[0].chatID)
	require.Equal(t, "random", calls[1].chatID)
}

func TestSecondDeviceDoesNotRebroadcast(t *testing.T) {
	bc := &fakeBroadcaster{}
	tr := newTestTracker(bc)

	tr.OnConnect(context.Background(), "u1")
	tr.OnConnect(context.Background(), "u1")

	require.True(t, tr.Online("u1"))
	require.Len(t, bc.snapshot(), 2) // only the first connect broadcast
}

func TestLastDisconnectBroadcastsOfflineWithLastSeen(t *testing.T) {
	bc := &fakeBroadcaster{}
	tr := newTestTracker(bc)

	tr.OnConnect(context.Background(), "u2")
	tr.OnConnect(context.Background(), "u2")
	tr.OnDisconnect(context.Background(), "u2")

	// One device still connected: no transition, still online.
	require.True(t, tr.Online("u2"))
	require.Len(t, bc.snapshot(), 1)

	tr.OnDisconnect(context.Background(), "u2")
	require.False(t, tr.Online("u2"))

	calls := bc.snapshot()
	require.Len(t, calls, 2)
	last := calls[1]
	require.Equal(t, model.EventUserOffline, last.kind)
	require.Equal(t, "offline", last.payload.Status)
	require.NotNil(t, last.payload.LastSeen)
}

func TestStaleDisconnectIsIgnored(t *testing.T) {
	bc := &fakeBroadcaster{}
	tr := newTestTracker(bc)

	tr.OnDisconnect(context.Background(), "u1")

	require.False(t, tr.Online("u1"))
	require.Empty(t, bc.snapshot())
}

func TestReconnectCycleBroadcastsAgain(t *testing.T) {
	bc := &fakeBroadcaster{}
	tr := newTestTracker(bc)

	tr.OnConnect(context.Background(), "u2")
	tr.OnDisconnect(context.Background(), "u2")
	tr.OnConnect(context.Background(), "u2")

	kinds := make([]model.EventKind, 0, 3)
	for _, call := range bc.snapshot() {
		kinds = append(kinds, call.kind)
	}
	require.Equal(t, []model.EventKind{
		model.EventUserOnline,
		model.EventUserOffline,
		model.EventUserOnline,
	}, kinds)
}
