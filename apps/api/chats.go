package main

import (
	"net/http"
	"time"

	"github.com/chatflow/chatflow/pkg/model"
)

// chatsHandler lists the caller's chats with unread counts and, for
// private chats, the counterpart's live presence flag.
func (a *API) chatsHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()

	iter := a.db.Query(`SELECT chat_id, kind, name, other_user_id, last_activity, last_message
	                    FROM user_chats WHERE user_id = ?`, claims.UserID).
		WithContext(ctx).Iter()

	var chats []model.Chat
	var (
		chatID, kind, name, otherUser, lastMessage string
		lastActivity                               time.Time
	)
	for iter.Scan(&chatID, &kind, &name, &otherUser, &lastActivity, &lastMessage) {
		c := model.Chat{
			ID:           chatID,
			Kind:         model.ChatKind(kind),
			Name:         name,
			OtherUserID:  otherUser,
			LastActivity: lastActivity,
			LastMessage:  lastMessage,
		}

		var unread int64
		if err := a.db.Query(`SELECT unread FROM unread_counters WHERE user_id = ? AND chat_id = ?`,
			claims.UserID, chatID).WithContext(ctx).Scan(&unread); err == nil {
			c.UnreadCount = int(unread)
		}

		if c.Kind == model.ChatPrivate && otherUser != "" {
			exists, err := a.rdb.Exists(ctx, "user:online:"+otherUser).Result()
			if err == nil && exists > 0 {
				c.OnlineStatus = true
			}
		}
		chats = append(chats, c)
	}
	if err := iter.Close(); err != nil {
		a.log.Error().Err(err).Str("user", claims.UserID).Msg("list chats")
		http.Error(w, "Failed to list chats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, chats)
}
