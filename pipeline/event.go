package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/alkimya/orchestrator-core/core"
)

// Event names: the ten strings an EventSink accepts (§6).
const (
	EventRunStarted    = "pipeline_run_started"
	EventRunCompleted  = "pipeline_run_completed"
	EventRunFailed     = "pipeline_run_failed"
	EventRunCancelled  = "pipeline_run_cancelled"
	EventRunTimeout    = "pipeline_run_timeout"
	EventNodeStarted   = "pipeline_node_started"
	EventNodeCompleted = "pipeline_node_completed"
	EventNodeFailed    = "pipeline_node_failed"
	EventNodeSkipped   = "pipeline_node_skipped"
	EventNodeRetrying  = "pipeline_node_retrying"
)

// EventSink emits lifecycle events. Fire-and-forget, at-most-once: a
// delivery failure is swallowed by the caller (§6, §7 InfrastructureError
// policy for event-emission failures), never surfaced to the run.
type EventSink interface {
	Emit(ctx context.Context, eventName string, payload map[string]interface{}) error
}

// NoopEventSink discards every event. The zero-dependency default.
type NoopEventSink struct{}

func (NoopEventSink) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	return nil
}

// RedisEventSink publishes events on a Redis pub/sub channel. This
// resolves SPEC_FULL.md's "two EventBus definitions" open question in
// favor of a single port with one production backing.
type RedisEventSink struct {
	client  *redis.Client
	channel string
	logger  core.Logger
}

func NewRedisEventSink(client *redis.Client, channel string, logger core.Logger) *RedisEventSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if channel == "" {
		channel = "orchestrator:events"
	}
	return &RedisEventSink{client: client, channel: channel, logger: logger}
}

func (s *RedisEventSink) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	envelope := map[string]interface{}{
		"event":   eventName,
		"payload": payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Warn("event sink: failed to marshal event", map[string]interface{}{
			"event": eventName,
			"error": err.Error(),
		})
		return fmt.Errorf("marshal event %s: %w", eventName, core.ErrEventSinkUnavailable)
	}

	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.logger.Warn("event sink: publish failed", map[string]interface{}{
			"event":   eventName,
			"channel": s.channel,
			"error":   err.Error(),
		})
		return fmt.Errorf("publish event %s: %w", eventName, core.ErrEventSinkUnavailable)
	}
	return nil
}

// InProcessEventSink fans out events to local Go channel subscribers. Used
// by tests that want to assert on emitted events directly; orchestratord
// does not wire it (with no Redis configured it emits to the Prometheus
// exporter alone).
type InProcessEventSink struct {
	subscribers []chan Emission
}

// Emission is one event as observed by an InProcessEventSink subscriber.
type Emission struct {
	Event   string
	Payload map[string]interface{}
}

func NewInProcessEventSink() *InProcessEventSink {
	return &InProcessEventSink{}
}

// Subscribe returns a channel that receives every future emission. The
// channel is buffered generously; a slow subscriber drops events rather
// than blocking emission (fire-and-forget, §6).
func (s *InProcessEventSink) Subscribe() <-chan Emission {
	ch := make(chan Emission, 256)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *InProcessEventSink) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	for _, ch := range s.subscribers {
		select {
		case ch <- Emission{Event: eventName, Payload: payload}:
		default:
		}
	}
	return nil
}

// emitSwallowed wraps sink.Emit so an event-sink failure never affects the
// run's outcome (§7: "InfrastructureError... event-emission failures are
// swallowed"). Failures are logged at warn.
func emitSwallowed(ctx context.Context, sink EventSink, logger core.Logger, eventName string, payload map[string]interface{}) {
	if sink == nil {
		return
	}
	if err := sink.Emit(ctx, eventName, payload); err != nil {
		logger.Warn("event emission failed, continuing", map[string]interface{}{
			"event": eventName,
			"error": err.Error(),
		})
	}
}
