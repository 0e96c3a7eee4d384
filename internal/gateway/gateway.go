package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"crmdesk.app/chatsync/core/config"
	"crmdesk.app/chatsync/internal/model"
)

// PersistenceError is raised on any non-2xx response or transport failure from
// the remote conversation store. Status is 0 when no response was received.
type PersistenceError struct {
	Status   int
	Endpoint string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("conversation store %s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("conversation store %s: %v", e.Endpoint, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Gateway keeps the remote conversation record consistent with the local
// model. Persistence calls are not retried here; only the agent call carries a
// retry budget.
type Gateway struct {
	baseURL string
	client  *http.Client
}

func New(cfg config.RemoteStoreConfig) *Gateway {
	return &Gateway{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type createRequest struct {
	UserID   string        `json:"userId"`
	Title    string        `json:"title"`
	Messages []wireMessage `json:"messages"`
}

type createResponse struct {
	ID string `json:"id"`
}

// Create allocates a new remote record with an empty message list and returns
// its ID. Must be called at most once per conversation.
func (g *Gateway) Create(ctx context.Context, userID, title, token string) (string, error) {
	body := createRequest{UserID: userID, Title: title, Messages: []wireMessage{}}

	data, err := g.do(ctx, http.MethodPost, "/conversations", nil, body, token)
	if err != nil {
		return "", err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &PersistenceError{Endpoint: "/conversations", Err: fmt.Errorf("decode create response: %w", err)}
	}
	if resp.ID == "" {
		return "", &PersistenceError{Endpoint: "/conversations", Err: fmt.Errorf("create response missing id")}
	}

	slog.InfoContext(ctx, "remote conversation created", "conversation_id", resp.ID)
	return resp.ID, nil
}

// Get fetches one conversation. Returns (nil, nil) exactly on not-found; any
// other failure raises a PersistenceError.
func (g *Gateway) Get(ctx context.Context, conversationID, userID, token string) (*model.Conversation, error) {
	endpoint := "/conversations/" + conversationID
	query := url.Values{"user_id": {userID}}

	data, err := g.do(ctx, http.MethodGet, endpoint, query, nil, token)
	if err != nil {
		var perr *PersistenceError
		if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var record wireConversation
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &PersistenceError{Endpoint: endpoint, Err: fmt.Errorf("decode conversation: %w", err)}
	}

	conv := toInternal(ctx, record)
	return &conv, nil
}

// Update replaces the remote record's metadata and full message list. The
// remote store has no partial-append operation and no concurrency token, so
// this is last write wins across sessions.
func (g *Gateway) Update(ctx context.Context, conversationID, userID string, conv *model.Conversation, token string) error {
	endpoint := "/conversations/" + conversationID
	query := url.Values{"user_id": {userID}}

	_, err := g.do(ctx, http.MethodPut, endpoint, query, toWire(conv, userID), token)
	return err
}

// Delete removes the remote record.
func (g *Gateway) Delete(ctx context.Context, conversationID, userID, token string) error {
	endpoint := "/conversations/" + conversationID
	query := url.Values{"user_id": {userID}}

	_, err := g.do(ctx, http.MethodDelete, endpoint, query, nil, token)
	return err
}

type listEnvelope struct {
	Conversations []wireSummary `json:"conversations"`
}

// List fetches the conversation summaries for a user. The endpoint has shipped
// both a bare array and a {"conversations": [...]} envelope; both are
// accepted. Any other shape yields an empty slice, which is a safe and
// recoverable default for a list view.
func (g *Gateway) List(ctx context.Context, userID, token string) ([]model.ConversationSummary, error) {
	query := url.Values{"user_id": {userID}}

	data, err := g.do(ctx, http.MethodGet, "/listconversations", query, nil, token)
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Conversations != nil {
		return toSummaries(ctx, envelope.Conversations), nil
	}

	var bare []wireSummary
	if err := json.Unmarshal(data, &bare); err == nil {
		return toSummaries(ctx, bare), nil
	}

	slog.WarnContext(ctx, "recovered from malformed conversation list, returning empty",
		"body_prefix", previewBody(data))
	return []model.ConversationSummary{}, nil
}

func (g *Gateway) do(ctx context.Context, method, endpoint string, query url.Values, body any, token string) ([]byte, error) {
	u := g.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &PersistenceError{Endpoint: endpoint, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &PersistenceError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &PersistenceError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &PersistenceError{Status: resp.StatusCode, Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &PersistenceError{Status: resp.StatusCode, Endpoint: endpoint}
	}
	return data, nil
}

func previewBody(data []byte) string {
	const max = 120
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
