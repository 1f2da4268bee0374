package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSession records delivered frames; full simulates a saturated
// outbound buffer.
type fakeSession struct {
	id   string
	user string
	full bool

	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSession) SessionID() string { return s.id }
func (s *fakeSession) UserID() string    { return s.user }

func (s *fakeSession) Enqueue(frame []byte) bool {
	if s.full {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSession) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestSubscribeIdempotent(t *testing.T) {
	r := NewRegistry()
	s := &fakeSession{id: "s1", user: "u1"}

	r.Subscribe(s, "general")
	r.Subscribe(s, "general")

	require.Len(t, r.Subscribers("general"), 1)
	require.True(t, r.IsSubscribed("s1", "general"))
}

func TestUnsubscribeStopsMembership(t *testing.T) {
	r := NewRegistry()
	s := &fakeSession{id: "s1", user: "u1"}
	r.Subscribe(s, "general")

	r.Unsubscribe("s1", "general")
	require.Empty(t, r.Subscribers("general"))
	require.False(t, r.IsSubscribed("s1", "general"))

	// Unknown session/chat pairs are no-ops.
	r.Unsubscribe("nope", "general")
	r.Unsubscribe("s1", "nope")
}

func TestDropSessionClearsEverything(t *testing.T) {
	r := NewRegistry()
	s := &fakeSession{id: "s1", user: "u1"}
	r.Register(s)
	r.Subscribe(s, "general")
	r.Subscribe(s, "random")

	subs := r.DropSession(s)
	require.ElementsMatch(t, []string{"general", "random"}, subs)
	require.Empty(t, r.Subscribers("general"))
	require.Empty(t, r.Subscribers("random"))
	require.Empty(t, r.UserSessions("u1"))
	require.False(t, r.IsSubscribed("s1", "general"))

	// Dropping again returns nothing and does not panic.
	require.Empty(t, r.DropSession(s))
}

func TestDropSessionKeepsOtherSessionsOfSameUser(t *testing.T) {
	r := NewRegistry()
	phone := &fakeSession{id: "phone", user: "u1"}
	laptop := &fakeSession{id: "laptop", user: "u1"}
	r.Register(phone)
	r.Register(laptop)
	r.Subscribe(phone, "general")
	r.Subscribe(laptop, "general")

	r.DropSession(phone)
	require.Len(t, r.Subscribers("general"), 1)
	require.Len(t, r.UserSessions("u1"), 1)
	require.True(t, r.IsSubscribed("laptop", "general"))
}

func TestUserSessionsBeforeAnySubscription(t *testing.T) {
	r := NewRegistry()
	s := &fakeSession{id: "s1", user: "u1"}
	r.Register(s)

	require.Len(t, r.UserSessions("u1"), 1)
	require.Empty(t, r.Subscribers("general"))
}
