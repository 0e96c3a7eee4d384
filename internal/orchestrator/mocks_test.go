package orchestrator_test

import (
	"context"
	"sync"

	"crmdesk.app/chatsync/internal/agent"
	"crmdesk.app/chatsync/internal/events"
	"crmdesk.app/chatsync/internal/model"
)

type mockGateway struct {
	mu sync.Mutex

	createFn func(ctx context.Context, userID, title, token string) (string, error)
	getFn    func(ctx context.Context, conversationID, userID, token string) (*model.Conversation, error)
	updateFn func(ctx context.Context, conversationID, userID string, conv *model.Conversation, token string) error
	deleteFn func(ctx context.Context, conversationID, userID, token string) error
	listFn   func(ctx context.Context, userID, token string) ([]model.ConversationSummary, error)

	createCalls int
	updateCalls int
	deleteCalls int
	updates     []model.Conversation
}

func (m *mockGateway) Create(ctx context.Context, userID, title, token string) (string, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, userID, title, token)
	}
	return "remote-1", nil
}

func (m *mockGateway) Get(ctx context.Context, conversationID, userID, token string) (*model.Conversation, error) {
	if m.getFn != nil {
		return m.getFn(ctx, conversationID, userID, token)
	}
	return nil, nil
}

func (m *mockGateway) Update(ctx context.Context, conversationID, userID string, conv *model.Conversation, token string) error {
	m.mu.Lock()
	m.updateCalls++
	m.updates = append(m.updates, *conv)
	m.mu.Unlock()
	if m.updateFn != nil {
		return m.updateFn(ctx, conversationID, userID, conv, token)
	}
	return nil
}

func (m *mockGateway) Delete(ctx context.Context, conversationID, userID, token string) error {
	m.mu.Lock()
	m.deleteCalls++
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, conversationID, userID, token)
	}
	return nil
}

func (m *mockGateway) List(ctx context.Context, userID, token string) ([]model.ConversationSummary, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, token)
	}
	return nil, nil
}

func (m *mockGateway) counts() (creates, updates, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, m.updateCalls, m.deleteCalls
}

func (m *mockGateway) updateSnapshots() []model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Conversation, len(m.updates))
	copy(out, m.updates)
	return out
}

type mockInvoker struct {
	mu       sync.Mutex
	invokeFn func(ctx context.Context, req agent.Request) agent.Result
	requests []agent.Request
}

func (m *mockInvoker) Invoke(ctx context.Context, req agent.Request) agent.Result {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.invokeFn != nil {
		return m.invokeFn(ctx, req)
	}
	return agent.Result{Text: "mock answer"}
}

func (m *mockInvoker) seen() []agent.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

type mockProducer struct {
	mu     sync.Mutex
	events []events.TurnEvent
}

func (m *mockProducer) Publish(_ context.Context, event events.TurnEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) published() []events.TurnEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.TurnEvent, len(m.events))
	copy(out, m.events)
	return out
}
