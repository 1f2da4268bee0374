package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatflow/chatflow/pkg/model"
)

func TestSetTypingIdempotent(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "general"}), 10)

	s.SetTyping("general", "u2", true)
	s.SetTyping("general", "u2", true)
	require.Equal(t, []string{"u2"}, s.TypingUsers("general"))

	s.SetTyping("general", "u2", false)
	s.SetTyping("general", "u2", false)
	require.Empty(t, s.TypingUsers("general"))

	// Stop for a user who never started is a no-op.
	s.SetTyping("general", "ghost", false)
	require.Empty(t, s.TypingUsers("general"))
}

func TestTypingUsersSorted(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "general"}), 10)
	s.SetTyping("general", "zoe", true)
	s.SetTyping("general", "amy", true)
	s.SetTyping("general", "mia", true)

	require.Equal(t, []string{"amy", "mia", "zoe"}, s.TypingUsers("general"))
}

func TestSweepClearsExpiredEntries(t *testing.T) {
	s := newTestStore(t, newFakeAPI(model.Chat{ID: "general"}), 10)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	s.SetTyping("general", "u2", true)
	s.SetTyping("general", "u3", true)

	// Not yet expired.
	now = now.Add(s.typingTTL - time.Millisecond)
	require.Zero(t, s.SweepTyping())
	require.Len(t, s.TypingUsers("general"), 2)

	// u2 re-arms, u3 runs out.
	s.SetTyping("general", "u2", true)
	now = now.Add(time.Millisecond)
	require.Equal(t, 1, s.SweepTyping())
	require.Equal(t, []string{"u2"}, s.TypingUsers("general"))

	now = now.Add(s.typingTTL)
	require.Equal(t, 1, s.SweepTyping())
	require.Empty(t, s.TypingUsers("general"))
}
