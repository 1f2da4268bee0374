// Package backfill serves cursor-paginated message history. Pages are
// fetched newest-first from storage and returned oldest-first; the
// cursor is the sequence number of the oldest message the caller has.
package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/chatflow/chatflow/pkg/db"
	"github.com/chatflow/chatflow/pkg/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Page struct {
	Messages   []model.Message `json:"messages"`
	HasMore    bool            `json:"has_more"`
	NextCursor int64           `json:"next_cursor,omitempty"`
}

type Store struct {
	db *db.Session
}

func NewStore(session *db.Session) *Store {
	return &Store{db: session}
}

// Messages returns up to limit messages with seq strictly below before
// (0 means newest), oldest-first within the page. Side-effect free.
func (s *Store) Messages(ctx context.Context, chatID string, before int64, limit int) (Page, error) {
	limit = clampLimit(limit)

	q := `SELECT id, chat_id, sender_id, content, reply_to_id, seq, is_edited, is_deleted, is_pinned, timestamp
	      FROM messages WHERE chat_id = ?`
	args := []any{chatID}
	if before > 0 {
		q += ` AND seq < ?`
		args = append(args, before)
	}
	q += ` LIMIT ?`
	// Fetch one extra row to learn whether older history remains.
	args = append(args, limit+1)

	iter := s.db.Query(q, args...).WithContext(ctx).Iter()

	var page []model.Message
	var m model.Message
	for iter.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ReplyToID, &m.Seq, &m.IsEdited, &m.IsDeleted, &m.IsPinned, &m.Timestamp) {
		page = append(page, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return Page{}, fmt.Errorf("query messages for %s: %w", chatID, err)
	}

	msgs, hasMore := Window(page, limit)
	p := Page{Messages: msgs, HasMore: hasMore}
	if hasMore && len(msgs) > 0 {
		p.NextCursor = msgs[0].Seq
	}
	return p, nil
}

// LastSeq returns the highest assigned sequence number for a chat, zero
// when the chat has no history. Used to seed the hub's sequencer.
func (s *Store) LastSeq(ctx context.Context, chatID string) (int64, error) {
	var seq int64
	err := s.db.Query(`SELECT seq FROM messages WHERE chat_id = ? LIMIT 1`, chatID).
		WithContext(ctx).Scan(&seq)
	if err == gocql.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last seq for %s: %w", chatID, err)
	}
	return seq, nil
}

// ErrNoMessage reports a (chat, seq) pair with no stored message.
var ErrNoMessage = errors.New("backfill: no such message")

// SenderOf returns the author of the stored message at (chat, seq).
func (s *Store) SenderOf(ctx context.Context, chatID string, seq int64) (string, error) {
	var sender string
	err := s.db.Query(`SELECT sender_id FROM messages WHERE chat_id = ? AND seq = ?`, chatID, seq).
		WithContext(ctx).Scan(&sender)
	if err == gocql.ErrNotFound {
		return "", ErrNoMessage
	}
	if err != nil {
		return "", fmt.Errorf("sender of %s/%d: %w", chatID, seq, err)
	}
	return sender, nil
}

// Pinned lists the pinned messages of a chat, newest-first.
func (s *Store) Pinned(ctx context.Context, chatID string) ([]model.Message, error) {
	iter := s.db.Query(`SELECT id, chat_id, sender_id, content, reply_to_id, seq, is_edited, is_deleted, is_pinned, timestamp
	                    FROM messages WHERE chat_id = ? AND is_pinned = true ALLOW FILTERING`, chatID).
		WithContext(ctx).Iter()

	var pinned []model.Message
	var m model.Message
	for iter.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ReplyToID, &m.Seq, &m.IsEdited, &m.IsDeleted, &m.IsPinned, &m.Timestamp) {
		pinned = append(pinned, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query pinned for %s: %w", chatID, err)
	}
	return pinned, nil
}

// Window trims a newest-first result set fetched with one extra row and
// reverses it to oldest-first. The second return reports whether older
// history remains beyond the page.
func Window(newestFirst []model.Message, limit int) ([]model.Message, bool) {
	hasMore := len(newestFirst) > limit
	if hasMore {
		newestFirst = newestFirst[:limit]
	}
	out := make([]model.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(out)-1-i] = m
	}
	return out, hasMore
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
