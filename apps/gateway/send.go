package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chatflow/chatflow/pkg/auth"
	"github.com/chatflow/chatflow/pkg/model"
)

// sendHandler accepts a message over HTTP and returns the canonical
// message with its server-assigned identity and sequence number. The
// live event fans out to subscribers on the same call, so the sender's
// own session sees it as a message.new too.
func (gw *Gateway) sendHandler(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := gw.tokens.Validate(auth.BearerToken(header))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || strings.TrimSpace(req.Content) == "" {
		http.Error(w, "chat_id and content are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	member, err := gw.dir.IsMember(ctx, req.ChatID, claims.UserID)
	if err != nil {
		gw.log.Error().Err(err).Str("chat", req.ChatID).Msg("membership check")
		http.Error(w, "Send failed", http.StatusInternalServerError)
		return
	}
	if !member {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	msg, err := gw.hub.PublishMessage(ctx, model.Message{
		ChatID:    req.ChatID,
		SenderID:  claims.UserID,
		Content:   req.Content,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		gw.log.Error().Err(err).Str("chat", req.ChatID).Msg("publish message")
		http.Error(w, "Send failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}
