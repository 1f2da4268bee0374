// Package hub routes accepted events to the sessions subscribed to each
// chat. Publishes within one chat are serialized so assigned sequence
// numbers are gapless and delivery order matches assignment order;
// different chats proceed independently. Delivery is at-least-once: a
// session that is connected and subscribed at publish time gets the
// event, a reconnecting session backfills what it missed.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/ident"
	"github.com/chatflow/chatflow/pkg/model"
)

// Sink receives every accepted durable event for persistence, keyed by
// chat id so per-chat order survives partitioning.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// durable event kinds are mirrored to the sink; everything else
// (typing, presence) is fan-out only and leaves no trace.
var durableKinds = map[model.EventKind]bool{
	model.EventMessageNew:      true,
	model.EventMessageUpdate:   true,
	model.EventMessageDelete:   true,
	model.EventMessageReaction: true,
	model.EventMessageRead:     true,
}

type Hub struct {
	log    zerolog.Logger
	reg    *Registry
	seq    *sequencer
	ids    *ident.Generator
	sink   Sink
	onDrop func(Session)
}

type Option func(*Hub)

// WithSink mirrors accepted durable events to a persistence sink.
func WithSink(sink Sink) Option {
	return func(h *Hub) { h.sink = sink }
}

// WithDropHandler is called when a session's buffer is full and the hub
// stops delivering to it. The owner should tear the session down.
func WithDropHandler(fn func(Session)) Option {
	return func(h *Hub) { h.onDrop = fn }
}

func New(log zerolog.Logger, reg *Registry, ids *ident.Generator, seed SeedFunc, opts ...Option) *Hub {
	h := &Hub{
		log: log.With().Str("component", "hub").Logger(),
		reg: reg,
		seq: newSequencer(seed),
		ids: ids,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.reg }

// PublishMessage accepts a client-sent message: assigns identity and the
// chat's next sequence number, fans the message.new event out to every
// subscriber and hands it to the sink. Returns the canonical message.
func (h *Hub) PublishMessage(ctx context.Context, m model.Message) (model.Message, error) {
	m.ID = h.ids.Next()
	m.Status = model.StatusSent
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	err := h.seq.withRoom(ctx, m.ChatID, func(next func() int64) error {
		m.Seq = next()
		env, err := model.NewEnvelope(model.EventMessageNew, m)
		if err != nil {
			return err
		}
		return h.dispatch(ctx, m.ChatID, env)
	})
	if err != nil {
		return model.Message{}, err
	}
	return m, nil
}

// Publish fans an event out to a chat's subscribers. Durable kinds are
// also handed to the sink; ephemeral kinds carry no sequence number and
// are never persisted.
func (h *Hub) Publish(ctx context.Context, chatID string, kind model.EventKind, payload any) error {
	env, err := model.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	if durableKinds[kind] {
		// Serialize against message publishes in the same chat so the
		// sink sees mutations in the order subscribers did.
		return h.seq.withRoom(ctx, chatID, func(func() int64) error {
			return h.dispatch(ctx, chatID, env)
		})
	}
	return h.fanout(chatID, env)
}

// SendToUser delivers an event to every connected session of one user.
func (h *Hub) SendToUser(userID string, kind model.EventKind, payload any) error {
	env, err := model.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, s := range h.reg.UserSessions(userID) {
		h.deliver(s, frame)
	}
	return nil
}

// dispatch hands a durable event to the sink first and fans it out
// only once it is accepted for persistence. Failing before fan-out
// means no subscriber ever saw the rejected event, so the caller can
// retry it under the same (rolled back) sequence number.
func (h *Hub) dispatch(ctx context.Context, chatID string, env model.Envelope) error {
	if h.sink != nil {
		frame, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := h.sink.Publish(ctx, chatID, frame); err != nil {
			return err
		}
	}
	return h.fanout(chatID, env)
}

func (h *Hub) fanout(chatID string, env model.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for _, s := range h.reg.Subscribers(chatID) {
		h.deliver(s, frame)
	}
	return nil
}

func (h *Hub) deliver(s Session, frame []byte) {
	if s.Enqueue(frame) {
		return
	}
	h.log.Warn().
		Str("session", s.SessionID()).
		Str("user", s.UserID()).
		Msg("session buffer full, dropping")
	h.reg.DropSession(s)
	if h.onDrop != nil {
		h.onDrop(s)
	}
}
