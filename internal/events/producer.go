package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// TurnOutcome records how a turn ended from the user's point of view.
type TurnOutcome string

const (
	OutcomeAnswered    TurnOutcome = "answered"
	OutcomeDegraded    TurnOutcome = "degraded"     // agent failed, fallback message shown
	OutcomePersistLost TurnOutcome = "persist_lost" // answer shown but final remote write failed
)

// TurnEvent is one completed turn, published for analytics. Consumers live
// outside this service; publishing is fire-and-forget.
type TurnEvent struct {
	ConversationID string
	UserID         string
	Turn           int
	AgentLatencyMs int64
	Outcome        TurnOutcome
	TraceID        *string
}

type Producer interface {
	Publish(ctx context.Context, event TurnEvent) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Publish(ctx context.Context, event TurnEvent) error {
	fields := map[string]any{
		"conversation_id":  event.ConversationID,
		"user_id":          event.UserID,
		"turn":             event.Turn,
		"agent_latency_ms": event.AgentLatencyMs,
		"outcome":          string(event.Outcome),
	}
	if event.TraceID != nil && *event.TraceID != "" {
		fields["trace_id"] = *event.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish turn event: %w", err)
	}

	p.logger.DebugContext(ctx, "published turn event", "conversation_id", event.ConversationID, "turn", event.Turn, "outcome", event.Outcome)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

// NopProducer is used when no event stream is configured.
type NopProducer struct{}

func (NopProducer) Publish(context.Context, TurnEvent) error { return nil }
func (NopProducer) Close() error                             { return nil }
