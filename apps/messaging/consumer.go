package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/chatflow/chatflow/pkg/db"
	"github.com/chatflow/chatflow/pkg/directory"
	"github.com/chatflow/chatflow/pkg/model"
)

// Consumer applies the gateway's accepted durable events to storage:
// message rows, per-member conversation previews, unread counters and
// read positions. Redelivery is harmless; every write is idempotent on
// the (chat_id, seq) key except counter bumps, which the at-least-once
// contract tolerates.
type Consumer struct {
	log    zerolog.Logger
	reader *kafka.Reader
	db     *db.Session
	dir    *directory.Directory
}

func NewConsumer(log zerolog.Logger, reader *kafka.Reader, session *db.Session) *Consumer {
	return &Consumer{
		log:    log.With().Str("component", "consumer").Logger(),
		reader: reader,
		db:     session,
		dir:    directory.New(session),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("read event, retrying")
			time.Sleep(time.Second)
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			c.log.Warn().Err(err).Msg("undecodable event skipped")
			continue
		}
		if err := c.apply(ctx, env); err != nil {
			c.log.Error().Err(err).Str("event", string(env.Event)).Msg("apply event")
		}
	}
}

func (c *Consumer) apply(ctx context.Context, env model.Envelope) error {
	switch env.Event {
	case model.EventMessageNew:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return err
		}
		return c.applyNewMessage(ctx, msg)

	case model.EventMessageUpdate:
		var p model.MessageUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return c.db.Query(`UPDATE messages SET content = ?, is_edited = true WHERE chat_id = ? AND seq = ?`,
			p.Content, p.ChatID, p.Seq).WithContext(ctx).Exec()

	case model.EventMessageDelete:
		var p model.MessageDeletePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		// Tombstone rather than removal, so an edit racing a delete
		// stays detectable.
		return c.db.Query(`UPDATE messages SET is_deleted = true, content = '' WHERE chat_id = ? AND seq = ?`,
			p.ChatID, p.Seq).WithContext(ctx).Exec()

	case model.EventMessageRead:
		var p model.ReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return err
		}
		return c.db.Query(`UPDATE chat_members SET last_read_seq = ? WHERE chat_id = ? AND user_id = ?`,
			p.Seq, p.ChatID, p.UserID).WithContext(ctx).Exec()

	case model.EventMessageReaction:
		// Reactions are relayed live but not materialized yet.
		return nil

	default:
		// Ephemeral kinds never reach the topic; ignore quietly.
		return nil
	}
}

func (c *Consumer) applyNewMessage(ctx context.Context, msg model.Message) error {
	err := c.db.Query(`INSERT INTO messages (chat_id, seq, id, sender_id, content, reply_to_id, is_edited, is_deleted, is_pinned, timestamp)
	                   VALUES (?, ?, ?, ?, ?, ?, false, false, false, ?)`,
		msg.ChatID, msg.Seq, msg.ID, msg.SenderID, msg.Content, msg.ReplyToID, msg.Timestamp).
		WithContext(ctx).Exec()
	if err != nil {
		return err
	}

	members, err := c.dir.MembersOf(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	for _, userID := range members {
		err := c.db.Query(`UPDATE user_chats SET last_activity = ?, last_message = ? WHERE user_id = ? AND chat_id = ?`,
			msg.Timestamp, msg.Content, userID, msg.ChatID).WithContext(ctx).Exec()
		if err != nil {
			c.log.Warn().Err(err).Str("user", userID).Msg("update conversation preview")
		}
		if userID == msg.SenderID {
			continue
		}
		err = c.db.Query(`UPDATE unread_counters SET unread = unread + 1 WHERE user_id = ? AND chat_id = ?`,
			userID, msg.ChatID).WithContext(ctx).Exec()
		if err != nil {
			c.log.Warn().Err(err).Str("user", userID).Msg("bump unread counter")
		}
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
