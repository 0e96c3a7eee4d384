package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"crmdesk.app/chatsync/common"
	"crmdesk.app/chatsync/common/id"
	"crmdesk.app/chatsync/common/logger"
	"crmdesk.app/chatsync/internal/agent"
	"crmdesk.app/chatsync/internal/events"
	"crmdesk.app/chatsync/internal/model"
	"crmdesk.app/chatsync/internal/store"
)

var (
	ErrEmptyMessage         = errors.New("message is blank")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrSendInFlight         = errors.New("a send is already in flight for this conversation")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// SendState tracks where a turn is in its lifecycle. There is no error state:
// every failure path lands back at idle with a fallback assistant message, so
// the UI can always submit again.
type SendState string

const (
	StateSending            SendState = "sending"
	StatePersistingUserTurn SendState = "persisting_user_turn"
	StateAwaitingAgent      SendState = "awaiting_agent"
	StatePersistingFinal    SendState = "persisting_final"
)

// Gateway is the slice of the persistence gateway the orchestrator needs.
type Gateway interface {
	Create(ctx context.Context, userID, title, token string) (string, error)
	Get(ctx context.Context, conversationID, userID, token string) (*model.Conversation, error)
	Update(ctx context.Context, conversationID, userID string, conv *model.Conversation, token string) error
	Delete(ctx context.Context, conversationID, userID, token string) error
	List(ctx context.Context, userID, token string) ([]model.ConversationSummary, error)
}

// Invoker is the agent round trip. It never returns an error by contract.
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request) agent.Result
}

// TurnInput is one user submission. Token is the caller's bearer token,
// forwarded verbatim to the remote store and the agent.
type TurnInput struct {
	UserID string
	Text   string
	Token  string
}

// Orchestrator sequences one user turn end to end: optimistic local append,
// remote persistence, agent invocation, final commit. It enforces at most one
// in-flight send per conversation.
type Orchestrator struct {
	store    *store.ConversationStore
	gateway  Gateway
	invoker  Invoker
	producer events.Producer
	titleMax int

	mu        sync.Mutex
	inFlight  map[string]SendState
	persisted map[string]bool
}

func New(st *store.ConversationStore, gw Gateway, inv Invoker, producer events.Producer, titleMax int) *Orchestrator {
	if producer == nil {
		producer = events.NopProducer{}
	}
	if titleMax <= 0 {
		titleMax = common.DefaultTitleMax
	}
	return &Orchestrator{
		store:     st,
		gateway:   gw,
		invoker:   inv,
		producer:  producer,
		titleMax:  titleMax,
		inFlight:  map[string]SendState{},
		persisted: map[string]bool{},
	}
}

// Send runs one turn. Precondition failures (blank text, no active
// conversation, send already in flight) return a sentinel error and touch
// nothing. Everything past the preconditions terminates in a consistent
// state: the returned conversation always ends with an assistant message,
// synthetic if the backend failed.
func (o *Orchestrator) Send(ctx context.Context, in TurnInput) (*model.Conversation, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	active := o.store.Active()
	if active == nil {
		return nil, ErrNoActiveConversation
	}
	if !o.begin(active.ID) {
		return nil, ErrSendInFlight
	}

	convID := active.ID
	defer func() { o.finish(convID) }()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: logger.Ptr(convID),
		UserID:         logger.Ptr(in.UserID),
		Component:      "chatsync.orchestrator",
	})
	sc := logger.StartSpan(ctx, "orchestrator.send_turn")
	defer sc.End()
	ctx = sc.Context()

	// Optimistic append: local state leads, the remote record follows.
	userMsg := model.Message{
		ID:        id.NewString(),
		Role:      model.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	o.store.AppendMessage(userMsg)

	firstTurn := len(active.Messages) == 0
	if firstTurn {
		o.store.SetTitle(common.TitleFromMessage(text, o.titleMax))
	}

	// The agent reads the persisted conversation rather than receiving the
	// message inline, so the user turn must be durable before invocation.
	o.setState(convID, StatePersistingUserTurn)
	convID, err := o.persistUserTurn(ctx, convID, in)
	if err != nil {
		slog.ErrorContext(ctx, "user turn persistence failed", "error", err)
		conv := o.degradeTurn(ctx, convID, in,
			"I couldn't save your message. Please check your connection and try again.")
		return conv, nil
	}

	o.setState(convID, StateAwaitingAgent)
	result := o.invoker.Invoke(ctx, agent.Request{
		UserIdentity:   in.UserID,
		AuthToken:      in.Token,
		ConversationID: convID,
		Question:       &text,
	})

	assistant := assistantMessage(result)
	o.store.AppendMessage(assistant)

	o.setState(convID, StatePersistingFinal)
	outcome := events.OutcomeAnswered
	if current := o.store.Active(); current != nil {
		if err := o.gateway.Update(ctx, convID, in.UserID, current, in.Token); err != nil {
			// The user already sees the answer locally; the remote record is
			// missing only the assistant turn. Logged, not surfaced.
			slog.WarnContext(ctx, "final persistence failed, remote record is behind", "error", err)
			outcome = events.OutcomePersistLost
		}
	}

	conv := o.store.Active()
	o.publishTurn(ctx, conv, in.UserID, result.ProcessingTime, outcome)
	return conv, nil
}

// persistUserTurn mirrors the conversation to the remote store: a create on
// the conversation's first successful persistence, then a full-list update.
// Returns the conversation ID, which changes when the remote store allocates
// one on create.
func (o *Orchestrator) persistUserTurn(ctx context.Context, convID string, in TurnInput) (string, error) {
	if !o.isPersisted(convID) {
		active := o.store.Active()
		remoteID, err := o.gateway.Create(ctx, in.UserID, active.Title, in.Token)
		if err != nil {
			return convID, fmt.Errorf("create remote conversation: %w", err)
		}
		if remoteID != convID {
			o.store.AdoptID(remoteID)
			o.rename(convID, remoteID)
			convID = remoteID
		}
		o.markPersisted(convID)
	}

	current := o.store.Active()
	if current == nil {
		return convID, nil
	}
	if err := o.gateway.Update(ctx, convID, in.UserID, current, in.Token); err != nil {
		return convID, fmt.Errorf("persist user turn: %w", err)
	}
	return convID, nil
}

// degradeTurn appends a synthetic assistant message so the turn terminates
// with something readable, then reports the degraded outcome.
func (o *Orchestrator) degradeTurn(ctx context.Context, convID string, in TurnInput, text string) *model.Conversation {
	o.store.AppendMessage(model.Message{
		ID:        id.NewString(),
		Role:      model.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
	})
	conv := o.store.Active()
	o.publishTurn(ctx, conv, in.UserID, 0, events.OutcomeDegraded)
	return conv
}

// NewConversation allocates a fresh local conversation and makes it active.
// The remote record is created lazily on the first successful turn.
func (o *Orchestrator) NewConversation() model.Conversation {
	return o.store.CreateNew()
}

// Open loads a conversation from the remote store and makes it active.
func (o *Orchestrator) Open(ctx context.Context, conversationID, userID, token string) (*model.Conversation, error) {
	conv, err := o.gateway.Get(ctx, conversationID, userID, token)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	o.store.SetActive(conv)
	o.markPersisted(conv.ID)
	return conv, nil
}

// List refreshes the summary list from the remote store.
func (o *Orchestrator) List(ctx context.Context, userID, token string) ([]model.ConversationSummary, error) {
	summaries, err := o.gateway.List(ctx, userID, token)
	if err != nil {
		return nil, err
	}
	o.store.SetSummaries(summaries)
	for _, s := range summaries {
		o.markPersisted(s.ID)
	}
	return summaries, nil
}

// Delete removes the conversation remotely and locally. Remote failure is
// surfaced; local state is only touched after the remote delete succeeds.
func (o *Orchestrator) Delete(ctx context.Context, conversationID, userID, token string) error {
	if err := o.gateway.Delete(ctx, conversationID, userID, token); err != nil {
		return err
	}
	o.store.Remove(conversationID)
	o.forget(conversationID)
	return nil
}

// SetFeedback applies the idempotent feedback toggle to a message in the
// active conversation and mirrors the change remotely on a best-effort basis.
func (o *Orchestrator) SetFeedback(ctx context.Context, messageID string, verdict model.FeedbackVerdict, userID, token string) (*model.Feedback, error) {
	fb, ok := o.store.ToggleFeedback(messageID, verdict)
	if !ok {
		return nil, ErrMessageNotFound
	}

	if conv := o.store.Active(); conv != nil && o.isPersisted(conv.ID) {
		if err := o.gateway.Update(ctx, conv.ID, userID, conv, token); err != nil {
			slog.WarnContext(ctx, "feedback not mirrored to remote store", "message_id", messageID, "error", err)
		}
	}
	return fb, nil
}

// Summaries returns the local conversation list without a remote round trip.
func (o *Orchestrator) Summaries() []model.ConversationSummary {
	return o.store.Summaries()
}

// Active returns the active conversation, or nil.
func (o *Orchestrator) Active() *model.Conversation {
	return o.store.Active()
}

func assistantMessage(result agent.Result) model.Message {
	return model.Message{
		ID:           id.NewString(),
		Role:         model.RoleAssistant,
		Content:      result.Text,
		Timestamp:    time.Now(),
		Table:        result.Table,
		Chart:        result.Chart,
		DownloadLink: result.DownloadLink,
		Metadata: map[string]any{
			"processing_time_ms": result.ProcessingTime.Milliseconds(),
		},
	}
}

func (o *Orchestrator) publishTurn(ctx context.Context, conv *model.Conversation, userID string, latency time.Duration, outcome events.TurnOutcome) {
	if conv == nil {
		return
	}
	event := events.TurnEvent{
		ConversationID: conv.ID,
		UserID:         userID,
		Turn:           (len(conv.Messages) + 1) / 2,
		AgentLatencyMs: latency.Milliseconds(),
		Outcome:        outcome,
	}
	if err := o.producer.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "turn event not published", "error", err)
	}
}

// begin claims the per-conversation send slot. The boolean guard is the only
// mutual-exclusion discipline between turns of one conversation; turns of
// different conversations interleave freely.
func (o *Orchestrator) begin(convID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[convID]; busy {
		return false
	}
	o.inFlight[convID] = StateSending
	return true
}

func (o *Orchestrator) setState(convID string, state SendState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[convID]; busy {
		o.inFlight[convID] = state
	}
}

// rename moves the in-flight slot when the remote store allocates a new ID
// mid-turn, so a concurrent send against the adopted ID is still rejected.
func (o *Orchestrator) rename(oldID, newID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state, busy := o.inFlight[oldID]; busy {
		delete(o.inFlight, oldID)
		o.inFlight[newID] = state
	}
}

func (o *Orchestrator) finish(convID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, convID)
}

func (o *Orchestrator) isPersisted(convID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persisted[convID]
}

func (o *Orchestrator) markPersisted(convID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persisted[convID] = true
}

func (o *Orchestrator) forget(convID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.persisted, convID)
}
