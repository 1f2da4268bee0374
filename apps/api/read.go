package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// readHandler resets the caller's unread counter for a chat. With
// counter columns, deleting the row is the way to reset.
func (a *API) readHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := chi.URLParam(r, "chatID")

	err := a.db.Query(`DELETE FROM unread_counters WHERE user_id = ? AND chat_id = ?`,
		claims.UserID, chatID).WithContext(r.Context()).Exec()
	if err != nil {
		a.log.Error().Err(err).Str("chat", chatID).Msg("reset unread")
		http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
