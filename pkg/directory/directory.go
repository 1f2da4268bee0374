// Package directory answers chat membership questions. Membership is
// administered elsewhere; the sync engine only reads it.
package directory

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/chatflow/chatflow/pkg/db"
)

type Directory struct {
	db *db.Session
}

func New(session *db.Session) *Directory {
	return &Directory{db: session}
}

// ChatsForUser lists the chat ids a user is an active member of.
func (d *Directory) ChatsForUser(ctx context.Context, userID string) ([]string, error) {
	iter := d.db.Query(`SELECT chat_id FROM user_chats WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()

	var chats []string
	var chatID string
	for iter.Scan(&chatID) {
		chats = append(chats, chatID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("chats for user %s: %w", userID, err)
	}
	return chats, nil
}

// MembersOf lists the user ids belonging to a chat.
func (d *Directory) MembersOf(ctx context.Context, chatID string) ([]string, error) {
	iter := d.db.Query(`SELECT user_id FROM chat_members WHERE chat_id = ?`, chatID).
		WithContext(ctx).Iter()

	var members []string
	var userID string
	for iter.Scan(&userID) {
		members = append(members, userID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("members of chat %s: %w", chatID, err)
	}
	return members, nil
}

// IsMember reports whether a user belongs to a chat.
func (d *Directory) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var found string
	err := d.db.Query(`SELECT user_id FROM chat_members WHERE chat_id = ? AND user_id = ?`, chatID, userID).
		WithContext(ctx).Scan(&found)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("membership check %s/%s: %w", chatID, userID, err)
	}
	return true, nil
}
