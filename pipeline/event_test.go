package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/alkimya/orchestrator-core/core"
)

func TestInProcessEventSinkFansOutToSubscribers(t *testing.T) {
	sink := NewInProcessEventSink()
	ch := sink.Subscribe()

	if err := sink.Emit(context.Background(), EventRunStarted, map[string]interface{}{"run_id": "r1"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Event != EventRunStarted || ev.Payload["run_id"] != "r1" {
			t.Errorf("received = %+v, want run_started/r1", ev)
		}
	default:
		t.Fatal("expected an emission on the subscriber channel")
	}
}

type failingSink struct{}

func (failingSink) Emit(ctx context.Context, eventName string, payload map[string]interface{}) error {
	return errors.New("sink unreachable")
}

func TestEmitSwallowedNeverPropagatesSinkFailure(t *testing.T) {
	// emitSwallowed must not panic or otherwise surface the sink's error;
	// callers rely on event emission never affecting the run's outcome.
	emitSwallowed(context.Background(), failingSink{}, &core.NoOpLogger{}, EventNodeFailed, nil)
}

func TestNoopEventSinkDiscards(t *testing.T) {
	var sink EventSink = NoopEventSink{}
	if err := sink.Emit(context.Background(), EventRunCompleted, nil); err != nil {
		t.Errorf("NoopEventSink.Emit() error = %v, want nil", err)
	}
}

func TestRedisEventSinkPublishesToChannel(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "orchestrator:events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe Receive() error = %v", err)
	}

	sink := NewRedisEventSink(client, "", &core.NoOpLogger{})
	if err := sink.Emit(ctx, EventRunStarted, map[string]interface{}{"run_id": "r1"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var envelope map[string]interface{}
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			t.Fatalf("unmarshal published payload: %v", err)
		}
		if envelope["event"] != EventRunStarted {
			t.Errorf("published event = %v, want %v", envelope["event"], EventRunStarted)
		}
		payload, _ := envelope["payload"].(map[string]interface{})
		if payload["run_id"] != "r1" {
			t.Errorf("published payload run_id = %v, want r1", payload["run_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestRedisEventSinkEmitFailsWhenUnreachable(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close() // connection now refused

	sink := NewRedisEventSink(client, "events", &core.NoOpLogger{})
	if err := sink.Emit(context.Background(), EventNodeFailed, nil); err == nil {
		t.Fatal("Emit() error = nil, want ErrEventSinkUnavailable when Redis is unreachable")
	} else if !errors.Is(err, core.ErrEventSinkUnavailable) {
		t.Errorf("Emit() error = %v, want core.ErrEventSinkUnavailable", err)
	}
}
