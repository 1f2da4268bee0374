package hub

import (
	"context"
	"fmt"
	"sync"
)

// SeedFunc loads the last assigned sequence number for a chat, typically
// from the message store. Zero means the chat has no history.
type SeedFunc func(ctx context.Context, chatID string) (int64, error)

// sequencer hands out gapless, strictly increasing sequence numbers per
// chat. Each room carries its own lock so publishes to different chats
// never contend.
type sequencer struct {
	mu    sync.Mutex
	rooms map[string]*roomSeq
	seed  SeedFunc
}

type roomSeq struct {
	mu     sync.Mutex
	last   int64
	seeded bool
}

func newSequencer(seed SeedFunc) *sequencer {
	return &sequencer{rooms: make(map[string]*roomSeq), seed: seed}
}

func (s *sequencer) room(chatID string) *roomSeq {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.rooms[chatID]
	if !ok {
		rs = &roomSeq{}
		s.rooms[chatID] = rs
	}
	return rs
}

// withRoom runs fn while holding the room's publish lock, passing an
// allocator that assigns the next sequence number. The lock spans both
// allocation and fan-out so delivery order matches assignment order.
// When fn fails, numbers it allocated are released again: nothing was
// persisted or delivered under them, so the next publish reuses them
// and the assigned range stays gapless.
func (s *sequencer) withRoom(ctx context.Context, chatID string, fn func(next func() int64) error) error {
	rs := s.room(chatID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.seeded && s.seed != nil {
		last, err := s.seed(ctx, chatID)
		if err != nil {
			return fmt.Errorf("seed sequence for %s: %w", chatID, err)
		}
		rs.last = last
	}
	rs.seeded = true

	checkpoint := rs.last
	err := fn(func() int64 {
		rs.last++
		return rs.last
	})
	if err != nil {
		rs.last = checkpoint
	}
	return err
}
