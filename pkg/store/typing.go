package store

import (
	"context"
	"sort"
	"time"
)

// Typing state per (chat, user) is a two-state machine: absent (idle)
// or present with an expiry. A typing.start arms or re-arms the expiry,
// a typing.stop clears it, and the sweep clears whatever the stop
// signal never reached. Nothing here is ever persisted.

// SetTyping adds or removes a user from a chat's typing set.
// Idempotent in both directions.
func (s *Store) SetTyping(chatID, userID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isTyping {
		if users, ok := s.typing[chatID]; ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(s.typing, chatID)
			}
		}
		return
	}
	if s.typing[chatID] == nil {
		s.typing[chatID] = make(map[string]time.Time)
	}
	s.typing[chatID][userID] = s.now().Add(s.typingTTL)
}

// TypingUsers snapshots the user ids currently typing in a chat.
func (s *Store) TypingUsers(chatID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]string, 0, len(s.typing[chatID]))
	for userID := range s.typing[chatID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// SweepTyping drops expired typing entries and returns how many were
// cleared. Driven by a scheduled check, not by captured closures.
func (s *Store) SweepTyping() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cleared := 0
	for chatID, users := range s.typing {
		for userID, expires := range users {
			if !expires.After(now) {
				delete(users, userID)
				cleared++
			}
		}
		if len(users) == 0 {
			delete(s.typing, chatID)
		}
	}
	return cleared
}

// RunTypingSweeper sweeps on an interval until the context ends.
func (s *Store) RunTypingSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepTyping()
		}
	}
}
