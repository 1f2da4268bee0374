package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// onlineHandler lists which members of a chat are currently online,
// derived from the presence keys the gateway maintains.
func (a *API) onlineHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := chi.URLParam(r, "chatID")
	ctx := r.Context()

	member, err := a.dir.IsMember(ctx, chatID, claims.UserID)
	if err != nil || !member {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	members, err := a.dir.MembersOf(ctx, chatID)
	if err != nil {
		a.log.Error().Err(err).Str("chat", chatID).Msg("list members")
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}

	online := make([]string, 0, len(members))
	for _, userID := range members {
		exists, err := a.rdb.Exists(ctx, "user:online:"+userID).Result()
		if err != nil {
			a.log.Warn().Err(err).Str("user", userID).Msg("presence lookup")
			continue
		}
		if exists > 0 {
			online = append(online, userID)
		}
	}
	writeJSON(w, online)
}
