package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatflow/chatflow/pkg/auth"
	"github.com/chatflow/chatflow/pkg/backfill"
	"github.com/chatflow/chatflow/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is the middleman between one websocket connection and the hub.
// It implements hub.Session.
type Client struct {
	gw   *Gateway
	log  zerolog.Logger
	conn *websocket.Conn

	sessionID string
	userID    string

	// Buffered channel of outbound frames.
	send chan []byte
	done chan struct{}

	// Chats this session announced typing.start for and has not yet
	// stopped; cleared implicitly on disconnect.
	typingMu sync.Mutex
	typingIn map[string]bool

	teardown sync.Once
}

func (c *Client) SessionID() string { return c.sessionID }
func (c *Client) UserID() string    { return c.userID }

func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		// Stream of a closed session is torn down; treat as delivered
		// so the hub does not re-drop it.
		return true
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close tears the session down: typing state this session contributed
// is cleared, registry entries are released, and only then does the
// presence transition run. Idempotent.
func (c *Client) Close() {
	c.teardown.Do(func() {
		ctx := context.Background()

		c.typingMu.Lock()
		typing := make([]string, 0, len(c.typingIn))
		for chatID := range c.typingIn {
			typing = append(typing, chatID)
		}
		c.typingIn = nil
		c.typingMu.Unlock()

		for _, chatID := range typing {
			payload := model.TypingPayload{ChatID: chatID, UserID: c.userID}
			if err := c.gw.hub.Publish(ctx, chatID, model.EventTypingStop, payload); err != nil {
				c.log.Debug().Err(err).Str("chat", chatID).Msg("clear typing")
			}
		}

		c.gw.hub.Registry().DropSession(c)
		c.gw.presence.OnDisconnect(ctx, c.userID)

		close(c.done)
		c.conn.Close()
		c.log.Info().Msg("session closed")
	})
}

// readPump pumps frames from the websocket connection into the hub.
func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	// Protocol pings double as liveness heartbeats: each one refreshes
	// the presence TTL so a quiet-but-connected user stays online.
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.gw.presence.Heartbeat(context.Background(), c.userID)
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("read error")
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.sendError("INVALID_JSON", "invalid event frame")
			continue
		}
		c.handleEvent(env)
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(env model.Envelope) {
	ctx := context.Background()

	switch env.Event {
	case model.EventPing:
		c.reply(model.EventPong, struct{}{})
		c.gw.presence.Heartbeat(ctx, c.userID)

	case model.EventSubscribe:
		var p model.SubscribePayload
		if !c.decode(env, &p) || p.ChatID == "" {
			return
		}
		if !c.requireMember(ctx, p.ChatID) {
			return
		}
		c.gw.hub.Registry().Subscribe(c, p.ChatID)

	case model.EventUnsubscribe:
		var p model.SubscribePayload
		if !c.decode(env, &p) || p.ChatID == "" {
			return
		}
		c.gw.hub.Registry().Unsubscribe(c.sessionID, p.ChatID)

	case model.EventTypingStart, model.EventTypingStop:
		var p model.TypingPayload
		if !c.decode(env, &p) || p.ChatID == "" {
			return
		}
		if !c.requireMember(ctx, p.ChatID) {
			return
		}
		p.UserID = c.userID
		c.trackTyping(p.ChatID, env.Event == model.EventTypingStart)
		if err := c.gw.hub.Publish(ctx, p.ChatID, env.Event, p); err != nil {
			c.log.Debug().Err(err).Str("chat", p.ChatID).Msg("relay typing")
		}

	case model.EventMessageRead:
		var p model.ReadPayload
		if !c.decode(env, &p) || p.ChatID == "" {
			return
		}
		if !c.requireMember(ctx, p.ChatID) {
			return
		}
		p.UserID = c.userID
		p.ReadAt = time.Now().UTC()
		if err := c.gw.hub.Publish(ctx, p.ChatID, model.EventMessageRead, p); err != nil {
			c.log.Debug().Err(err).Str("chat", p.ChatID).Msg("relay read receipt")
		}

	case model.EventMessageUpdate:
		var p model.MessageUpdatePayload
		if !c.decode(env, &p) || p.ChatID == "" || p.Seq <= 0 {
			return
		}
		if !c.requireMember(ctx, p.ChatID) || !c.requireOwner(ctx, p.ChatID, p.Seq) {
			return
		}
		p.IsEdited = true
		p.EditedAt = time.Now().UTC()
		if err := c.gw.hub.Publish(ctx, p.ChatID, model.EventMessageUpdate, p); err != nil {
			c.log.Warn().Err(err).Str("chat", p.ChatID).Msg("publish edit")
			c.sendError("UPDATE_FAILED", "edit was not accepted")
		}

	case model.EventMessageDelete:
		var p model.MessageDeletePayload
		if !c.decode(env, &p) || p.ChatID == "" || p.Seq <= 0 {
			return
		}
		if !c.requireMember(ctx, p.ChatID) || !c.requireOwner(ctx, p.ChatID, p.Seq) {
			return
		}
		if err := c.gw.hub.Publish(ctx, p.ChatID, model.EventMessageDelete, p); err != nil {
			c.log.Warn().Err(err).Str("chat", p.ChatID).Msg("publish delete")
			c.sendError("DELETE_FAILED", "delete was not accepted")
		}

	case model.EventUserStatus:
		var p model.UserStatusPayload
		if !c.decode(env, &p) || p.Status == "" {
			return
		}
		p.UserID = c.userID
		chats, err := c.gw.dir.ChatsForUser(ctx, c.userID)
		if err != nil {
			c.log.Warn().Err(err).Msg("list member chats")
			return
		}
		for _, chatID := range chats {
			if err := c.gw.hub.Publish(ctx, chatID, model.EventUserStatus, p); err != nil {
				c.log.Debug().Err(err).Str("chat", chatID).Msg("relay status")
			}
		}

	case model.EventMessageReaction:
		var p model.ReactionPayload
		if !c.decode(env, &p) || p.ChatID == "" {
			return
		}
		if !c.requireMember(ctx, p.ChatID) {
			return
		}
		p.UserID = c.userID
		if err := c.gw.hub.Publish(ctx, p.ChatID, model.EventMessageReaction, p); err != nil {
			c.log.Debug().Err(err).Str("chat", p.ChatID).Msg("relay reaction")
		}

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event kind: "+string(env.Event))
	}
}

// requireMember gates every chat-scoped relay on directory membership.
// A false return has already told the peer why.
func (c *Client) requireMember(ctx context.Context, chatID string) bool {
	member, err := c.gw.dir.IsMember(ctx, chatID, c.userID)
	if err != nil {
		c.log.Warn().Err(err).Str("chat", chatID).Msg("membership lookup")
		c.sendError("RELAY_FAILED", "could not verify membership")
		return false
	}
	if !member {
		c.sendError("FORBIDDEN", "not a member of this chat")
		return false
	}
	return true
}

// requireOwner gates edits and deletes on authorship of the stored
// message. An unknown seq is rejected the same way: nothing to own.
func (c *Client) requireOwner(ctx context.Context, chatID string, seq int64) bool {
	sender, err := c.gw.messages.SenderOf(ctx, chatID, seq)
	if err != nil {
		if errors.Is(err, backfill.ErrNoMessage) {
			c.sendError("FORBIDDEN", "no such message in this chat")
			return false
		}
		c.log.Warn().Err(err).Str("chat", chatID).Int64("seq", seq).Msg("sender lookup")
		c.sendError("RELAY_FAILED", "could not verify message ownership")
		return false
	}
	if sender != c.userID {
		c.sendError("FORBIDDEN", "only the sender may modify a message")
		return false
	}
	return true
}

func (c *Client) trackTyping(chatID string, typing bool) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if c.typingIn == nil {
		c.typingIn = make(map[string]bool)
	}
	if typing {
		c.typingIn[chatID] = true
	} else {
		delete(c.typingIn, chatID)
	}
}

func (c *Client) decode(env model.Envelope, dst any) bool {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		c.sendError("INVALID_PAYLOAD", "undecodable payload for "+string(env.Event))
		return false
	}
	return true
}

func (c *Client) reply(kind model.EventKind, payload any) {
	env, err := model.NewEnvelope(kind, payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.Enqueue(frame)
}

func (c *Client) sendError(code, message string) {
	c.reply(model.EventError, model.ErrorPayload{Code: code, Message: message})
}

// serveWs authenticates and upgrades a websocket request, then hands
// the session to the hub.
func (gw *Gateway) serveWs(w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Standard fallback for browser websocket clients.
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := gw.tokens.Validate(auth.BearerToken(tokenString))
	if err != nil {
		gw.log.Debug().Err(err).Msg("token rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := &Client{
		gw:        gw,
		conn:      conn,
		sessionID: uuid.NewString(),
		userID:    claims.UserID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	client.log = gw.log.With().
		Str("session", client.sessionID).
		Str("user", client.userID).Logger()

	ctx := r.Context()
	gw.hub.Registry().Register(client)
	gw.presence.OnConnect(context.WithoutCancel(ctx), client.userID)

	chats, err := gw.dir.ChatsForUser(context.WithoutCancel(ctx), client.userID)
	if err != nil {
		client.log.Warn().Err(err).Msg("list member chats")
	}
	client.reply(model.EventConnect, model.ConnectPayload{
		UserID:    client.userID,
		SessionID: client.sessionID,
		ChatCount: len(chats),
	})
	client.log.Info().Int("chats", len(chats)).Msg("session connected")

	go client.writePump()
	go client.readPump()
}
