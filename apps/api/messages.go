package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// messagesHandler serves one page of history older than the cursor,
// oldest-first. Membership is checked so a token for one user cannot
// read another user's chats.
func (a *API) messagesHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chatID := chi.URLParam(r, "chatID")
	ctx := r.Context()

	member, err := a.dir.IsMember(ctx, chatID, claims.UserID)
	if err != nil {
		a.log.Error().Err(err).Str("chat", chatID).Msg("membership check")
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || before < 1 {
			http.Error(w, "Invalid cursor", http.StatusBadRequest)
			return
		}
	}
	limit := a.pageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	page, err := a.history.Messages(ctx, chatID, before, limit)
	if err != nil {
		a.log.Error().Err(err).Str("chat", chatID).Msg("load history")
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, page)
}

// pinnedHandler lists a chat's pinned messages.
func (a *API) pinnedHandler(w http.ResponseWriter, r *http.Request) {
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

	pinned, err := a.history.Pinned(ctx, chatID)
	if err != nil {
		a.log.Error().Err(err).Str("chat", chatID).Msg("load pinned")
		http.Error(w, "Failed to retrieve pinned messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, pinned)
}
