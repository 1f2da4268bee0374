package hub

import (
	"sync"

	"github.com/samber/lo"
)

// Session is a connected client as seen by the hub.
type Session interface {
	SessionID() string
	UserID() string
	// Enqueue offers an outbound frame without blocking. A false return
	// means the session's buffer is full and the hub will drop it.
	Enqueue(frame []byte) bool
}

// Registry maps chat rooms to their subscribed sessions and back. All
// methods are idempotent; subscribing twice or dropping an unknown
// session is a no-op.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]Session // chat id -> session id -> session
	sessions map[string]map[string]bool    // session id -> subscribed chat ids
	users    map[string]map[string]Session // user id -> session id -> session
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]Session),
		sessions: make(map[string]map[string]bool),
		users:    make(map[string]map[string]Session),
	}
}

// Register tracks a connected session so user-addressed events can reach
// it before any room subscription exists.
func (r *Registry) Register(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users[s.UserID()] == nil {
		r.users[s.UserID()] = make(map[string]Session)
	}
	r.users[s.UserID()][s.SessionID()] = s
	if r.sessions[s.SessionID()] == nil {
		r.sessions[s.SessionID()] = make(map[string]bool)
	}
}

func (r *Registry) Subscribe(s Session, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[chatID] == nil {
		r.rooms[chatID] = make(map[string]Session)
	}
	r.rooms[chatID][s.SessionID()] = s
	if r.sessions[s.SessionID()] == nil {
		r.sessions[s.SessionID()] = make(map[string]bool)
	}
	r.sessions[s.SessionID()][chatID] = true
}

func (r *Registry) Unsubscribe(sessionID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID, chatID)
}

func (r *Registry) removeLocked(sessionID, chatID string) {
	if room, ok := r.rooms[chatID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if subs, ok := r.sessions[sessionID]; ok {
		delete(subs, chatID)
	}
}

// DropSession removes every registry entry for a session and returns the
// chat ids it was subscribed to. Must run to completion before presence
// transition logic so a reconnecting session cannot race its own stale
// cleanup.
func (r *Registry) DropSession(s Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := lo.Keys(r.sessions[s.SessionID()])
	for _, chatID := range subs {
		r.removeLocked(s.SessionID(), chatID)
	}
	delete(r.sessions, s.SessionID())

	if conns, ok := r.users[s.UserID()]; ok {
		delete(conns, s.SessionID())
		if len(conns) == 0 {
			delete(r.users, s.UserID())
		}
	}
	return subs
}

// Subscribers snapshots the sessions currently subscribed to a chat.
func (r *Registry) Subscribers(chatID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[chatID])
}

// UserSessions snapshots every connected session for a user.
func (r *Registry) UserSessions(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.users[userID])
}

// IsSubscribed reports whether a session currently holds a subscription.
func (r *Registry) IsSubscribed(sessionID, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID][chatID]
}
