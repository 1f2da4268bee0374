// Package session maintains one persistent duplex connection to the
// gateway. The channel is an explicit state machine:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Disconnected
//
// Reconnection backs off exponentially with jitter. On every reconnect
// the channel re-issues a subscribe for each active chat, because the
// server registry holds no memory of a dropped session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/model"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// SendPolicy decides what happens to sends while the channel is not
// connected. Sends are never silently dropped.
type SendPolicy int

const (
	// QueueWhileDown buffers outbound envelopes until reconnect.
	QueueWhileDown SendPolicy = iota
	// RejectWhileDown fails the send with ErrNotConnected.
	RejectWhileDown
)

var (
	ErrNotConnected     = errors.New("session: not connected")
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrQueueFull        = errors.New("session: outbound queue full")
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

type Config struct {
	URL   string // e.g. ws://localhost:8080/ws
	Token string

	PingPeriod time.Duration // must be under pongWait
	BackoffMin time.Duration
	BackoffMax time.Duration
	MaxRetries int // consecutive failed dials before giving up; 0 = unlimited
	QueueSize  int
	Policy     SendPolicy
}

func (c *Config) fill() {
	if c.PingPeriod <= 0 {
		c.PingPeriod = pongWait * 9 / 10
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

type Channel struct {
	log    zerolog.Logger
	cfg    Config
	dialer *websocket.Dialer

	onEvent func(model.Envelope)
	onState func(State)

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	subs    map[string]bool
	queue   []model.Envelope
	epoch   int // increments per connection; fences stale pump teardown
	closing bool

	writeCh chan model.Envelope
}

func NewChannel(log zerolog.Logger, cfg Config) *Channel {
	cfg.fill()
	return &Channel{
		log:     log.With().Str("component", "session").Logger(),
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		subs:    make(map[string]bool),
		writeCh: make(chan model.Envelope, cfg.QueueSize),
	}
}

// OnEvent registers the inbound event callback. Must be set before
// Connect; events decode on the single read loop goroutine.
func (c *Channel) OnEvent(fn func(model.Envelope)) { c.onEvent = fn }

// OnStateChange registers a state transition observer.
func (c *Channel) OnStateChange(fn func(State)) { c.onState = fn }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway and, on success, starts the read/write
// pumps. Subsequent drops reconnect in the background.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.closing = false
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(Disconnected)
		c.mu.Unlock()
		return err
	}
	c.attach(ctx, conn)
	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// Subscribe marks a chat active and issues the subscription. Active
// chats are re-subscribed automatically after every reconnect.
func (c *Channel) Subscribe(chatID string) error {
	c.mu.Lock()
	c.subs[chatID] = true
	c.mu.Unlock()
	return c.send(model.EventSubscribe, model.SubscribePayload{ChatID: chatID})
}

func (c *Channel) Unsubscribe(chatID string) error {
	c.mu.Lock()
	delete(c.subs, chatID)
	c.mu.Unlock()
	return c.send(model.EventUnsubscribe, model.SubscribePayload{ChatID: chatID})
}

// Send transmits an event, queueing or rejecting per policy while the
// channel is down.
func (c *Channel) Send(kind model.EventKind, payload any) error {
	return c.send(kind, payload)
}

func (c *Channel) send(kind model.EventKind, payload any) error {
	env, err := model.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		if c.cfg.Policy == RejectWhileDown {
			return ErrNotConnected
		}
		if len(c.queue) >= c.cfg.QueueSize {
			return ErrQueueFull
		}
		c.queue = append(c.queue, env)
		return nil
	}
	select {
	case c.writeCh <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	return conn, nil
}

// attach binds a fresh connection: transitions to Connected, replays
// subscriptions, flushes the offline queue and starts the pumps.
func (c *Channel) attach(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.epoch++
	epoch := c.epoch
	c.setStateLocked(Connected)
	subs := make([]string, 0, len(c.subs))
	for chatID := range c.subs {
		subs = append(subs, chatID)
	}
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	go c.writePump(conn, epoch)
	go c.readPump(ctx, conn, epoch)

	for _, chatID := range subs {
		if err := c.send(model.EventSubscribe, model.SubscribePayload{ChatID: chatID}); err != nil {
			c.log.Warn().Err(err).Str("chat", chatID).Msg("resubscribe")
		}
	}
	for _, env := range pending {
		c.mu.Lock()
		select {
		case c.writeCh <- env:
		default:
			c.queue = append(c.queue, env)
		}
		c.mu.Unlock()
	}
}

func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn, epoch int) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(ctx, conn, epoch, err)
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.log.Debug().Err(err).Msg("undecodable frame ignored")
			continue
		}
		if c.onEvent != nil {
			c.onEvent(env)
		}
	}
}

func (c *Channel) writePump(conn *websocket.Conn, epoch int) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env := <-c.writeCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				// Put the frame back so it survives the reconnect.
				c.requeue(env)
				conn.Close()
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			stale := c.epoch != epoch
			c.mu.Unlock()
			if stale {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) requeue(env model.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connected {
		// A newer pump owns the channel; hand the frame to it.
		select {
		case c.writeCh <- env:
			return
		default:
		}
	}
	if c.cfg.Policy == RejectWhileDown || len(c.queue) >= c.cfg.QueueSize {
		c.log.Warn().Str("event", string(env.Event)).Msg("outbound frame lost on drop")
		return
	}
	c.queue = append(c.queue, env)
}

// handleDrop is the Connected -> Reconnecting transition. It redials
// with capped exponential backoff until the connection is restored, the
// retry bound is hit, or Disconnect was requested.
func (c *Channel) handleDrop(ctx context.Context, conn *websocket.Conn, epoch int, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.closing || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(Reconnecting)
	c.mu.Unlock()

	c.log.Warn().Err(cause).Msg("connection lost, reconnecting")

	for attempt := 0; ; attempt++ {
		if c.cfg.MaxRetries > 0 && attempt >= c.cfg.MaxRetries {
			c.log.Error().Int("attempts", attempt).Msg("reconnect retries exhausted")
			c.mu.Lock()
			c.setStateLocked(Disconnected)
			c.mu.Unlock()
			return
		}

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.setStateLocked(Disconnected)
			c.mu.Unlock()
			return
		case <-time.After(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		next, err := c.dial(ctx)
		if err != nil {
			c.log.Debug().Err(err).Int("attempt", attempt+1).Msg("redial failed")
			continue
		}
		c.attach(ctx, next)
		return
	}
}

func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		go c.onState(s)
	}
}

// backoff returns min*2^attempt capped at max, with +/-25% jitter so a
// fleet of clients does not reconnect in lockstep.
func backoff(min, max time.Duration, attempt int) time.Duration {
	d := min << uint(attempt)
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d - d/4 + jitter
}
