package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chatflow/chatflow/pkg/backfill"
	"github.com/chatflow/chatflow/pkg/model"
)

// apiClient is the HTTP side of the client: chat list, history
// backfill, send and mark-read. It implements the reconciliation
// store's collaborator interfaces.
type apiClient struct {
	http        *http.Client
	apiBase     string
	gatewayBase string
	token       string
}

func newAPIClient(apiBase, gatewayBase string) *apiClient {
	return &apiClient{
		http:        http.DefaultClient,
		apiBase:     apiBase,
		gatewayBase: gatewayBase,
	}
}

func (c *apiClient) login(userID string) (string, error) {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := c.http.Post(c.apiBase+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(raw))
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

func (c *apiClient) Chats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	err := c.get(ctx, c.apiBase+"/chats", &chats)
	return chats, err
}

func (c *apiClient) Messages(ctx context.Context, chatID string, before int64, limit int) (backfill.Page, error) {
	url := fmt.Sprintf("%s/chats/%s/messages?limit=%d", c.apiBase, chatID, limit)
	if before > 0 {
		url += fmt.Sprintf("&before=%d", before)
	}
	var page backfill.Page
	err := c.get(ctx, url, &page)
	return page, err
}

func (c *apiClient) SendMessage(ctx context.Context, chatID, content string, replyTo int64) (model.Message, error) {
	body, err := json.Marshal(model.SendRequest{ChatID: chatID, Content: content, ReplyToID: replyTo})
	if err != nil {
		return model.Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayBase+"/messages", bytes.NewReader(body))
	if err != nil {
		return model.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Message{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return model.Message{}, fmt.Errorf("send rejected: %s", string(raw))
	}
	var msg model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (c *apiClient) MarkRead(ctx context.Context, chatID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chats/"+chatID+"/read", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mark read: status %d", resp.StatusCode)
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %s", url, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
