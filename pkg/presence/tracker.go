// Package presence derives a user's online/offline state from session
// connects and disconnects. A user is online while at least one of their
// sessions is connected; only the 0->1 and 1->0 transitions broadcast.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/model"
)

// Broadcaster fans a presence event out to one chat's subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, chatID string, kind model.EventKind, payload any) error
}

// Directory resolves the chats a user is a member of.
type Directory interface {
	ChatsForUser(ctx context.Context, userID string) ([]string, error)
}

type Tracker struct {
	log zerolog.Logger
	dir Directory
	bc  Broadcaster
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	conns map[string]int // user id -> connected session count
}

func NewTracker(log zerolog.Logger, dir Directory, bc Broadcaster, rdb *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Tracker{
		log:   log.With().Str("component", "presence").Logger(),
		dir:   dir,
		bc:    bc,
		rdb:   rdb,
		ttl:   ttl,
		conns: make(map[string]int),
	}
}

// OnConnect records a new session for a user. The first session makes
// the user online and broadcasts user.online to every chat they belong to.
func (t *Tracker) OnConnect(ctx context.Context, userID string) {
	t.mu.Lock()
	t.conns[userID]++
	first := t.conns[userID] == 1
	t.mu.Unlock()

	if !first {
		return
	}
	if t.rdb != nil {
		if err := t.rdb.Set(ctx, onlineKey(userID), "1", t.ttl).Err(); err != nil {
			t.log.Warn().Err(err).Str("user", userID).Msg("set online key")
		}
	}
	t.broadcast(ctx, userID, model.EventUserOnline, nil)
}

// OnDisconnect records a closed session. The last session going away
// makes the user offline, stamps last-seen and broadcasts user.offline.
func (t *Tracker) OnDisconnect(ctx context.Context, userID string) {
	t.mu.Lock()
	if t.conns[userID] == 0 {
		// Stale cleanup for a session never counted; nothing to do.
		t.mu.Unlock()
		return
	}
	t.conns[userID]--
	last := t.conns[userID] == 0
	if last {
		delete(t.conns, userID)
	}
	t.mu.Unlock()

	if !last {
		return
	}
	lastSeen := time.Now().UTC()
	if t.rdb != nil {
		if err := t.rdb.Del(ctx, onlineKey(userID)).Err(); err != nil {
			t.log.Warn().Err(err).Str("user", userID).Msg("del online key")
		}
		if err := t.rdb.Set(ctx, lastSeenKey(userID), lastSeen.Format(time.RFC3339), 0).Err(); err != nil {
			t.log.Warn().Err(err).Str("user", userID).Msg("set last seen")
		}
	}
	t.broadcast(ctx, userID, model.EventUserOffline, &lastSeen)
}

// Heartbeat refreshes the online key TTL for a connected user.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) {
	if t.rdb == nil {
		return
	}
	if err := t.rdb.Expire(ctx, onlineKey(userID), t.ttl).Err(); err != nil {
		t.log.Warn().Err(err).Str("user", userID).Msg("refresh online key")
	}
}

// Online reports the in-process view of a user's presence.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[userID] > 0
}

func (t *Tracker) broadcast(ctx context.Context, userID string, kind model.EventKind, lastSeen *time.Time) {
	chats, err := t.dir.ChatsForUser(ctx, userID)
	if err != nil {
		t.log.Warn().Err(err).Str("user", userID).Msg("resolve member chats")
		return
	}
	status := "online"
	if kind == model.EventUserOffline {
		status = "offline"
	}
	payload := model.UserStatusPayload{UserID: userID, Status: status, LastSeen: lastSeen}
	for _, chatID := range chats {
		if err := t.bc.Publish(ctx, chatID, kind, payload); err != nil {
			t.log.Warn().Err(err).Str("chat", chatID).Msg("broadcast presence")
		}
	}
}

func onlineKey(userID string) string   { return "user:online:" + userID }
func lastSeenKey(userID string) string { return "user:lastseen:" + userID }
