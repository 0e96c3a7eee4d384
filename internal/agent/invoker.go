package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"crmdesk.app/chatsync/core/config"
	"crmdesk.app/chatsync/internal/model"
)

// Request is one logical "ask the agent" call. Question is nil (omitted on
// the wire, never empty-stringed) when the turn carries no new text and the
// agent should derive intent from the already-persisted conversation.
type Request struct {
	UserIdentity   string
	AuthToken      string
	ConversationID string
	Question       *string
}

// Result is the normalized agent reply. Text is always non-empty: retry
// exhaustion, malformed replies, and empty replies all reduce to something the
// user can read.
type Result struct {
	Text           string
	Table          *model.Table
	Chart          *model.Chart
	DownloadLink   *model.DownloadLink
	ProcessingTime time.Duration
}

// wireRequest is the agent endpoint's request contract.
type wireRequest struct {
	App            string  `json:"App"`
	Correo         string  `json:"correo"`
	EntraToken     string  `json:"EntraToken"`
	IDConversacion string  `json:"IdConversacion"`
	Pregunta       *string `json:"pregunta,omitempty"`
}

// Invoker performs one agent round trip with bounded resilience. It never
// fails its caller: whatever happens, Invoke returns a Result the orchestrator
// can turn into an assistant message.
type Invoker struct {
	cfg    config.AgentConfig
	client *http.Client
	policy Policy
}

func NewInvoker(cfg config.AgentConfig) *Invoker {
	return &Invoker{
		cfg: cfg,
		// No client-level timeout: each attempt carries its own deadline.
		client: &http.Client{},
		policy: Policy{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       cfg.RetryDelay,
			Classify:    classifyFailure,
		},
	}
}

// Invoke asks the agent and normalizes whatever comes back. Per-attempt
// timeouts cancel the in-flight request and count as retryable; cancelling
// attempt k does not cancel the retry loop.
func (inv *Invoker) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()

	var raw []byte
	err := inv.policy.Run(ctx, func(ctx context.Context) error {
		body, attemptErr := inv.attempt(ctx, req)
		if attemptErr != nil {
			return attemptErr
		}
		raw = body
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "agent invocation failed after all attempts",
			"conversation_id", req.ConversationID,
			"max_attempts", inv.cfg.MaxAttempts,
			"latency_ms", time.Since(start).Milliseconds(),
			"error", err)
		return Result{
			Text:           failureText(err),
			ProcessingTime: time.Since(start),
		}
	}

	result := normalize(ctx, raw, inv.cfg.MaxTableRows, inv.cfg.MaxRawText)
	result.ProcessingTime = time.Since(start)

	slog.InfoContext(ctx, "agent invocation completed",
		"conversation_id", req.ConversationID,
		"has_table", result.Table != nil,
		"has_chart", result.Chart != nil,
		"latency_ms", result.ProcessingTime.Milliseconds())
	return result
}

func (inv *Invoker) attempt(ctx context.Context, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.cfg.AttemptTimeout)
	defer cancel()

	payload, err := json.Marshal(wireRequest{
		App:            inv.cfg.AppID,
		Correo:         req.UserIdentity,
		EntraToken:     req.AuthToken,
		IDConversacion: req.ConversationID,
		Pregunta:       req.Question,
	})
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("encode agent request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("build agent request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// failureText is the user-facing message substituted when every attempt
// failed. Kept apologetic and actionable; the error detail stays in the logs.
func failureText(err error) string {
	var se *statusError
	if errors.As(err, &se) && se.Code < 500 {
		return "The assistant rejected this request. Please rephrase and try again."
	}
	return "The assistant could not be reached right now. Please try again in a moment."
}
