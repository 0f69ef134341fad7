package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alkimya/orchestrator-core/core"
)

func testBreakerConfig() core.CircuitBreakerConfig {
	return core.CircuitBreakerConfig{
		Enabled:          true,
		Threshold:        3,
		Timeout:          30 * time.Millisecond,
		HalfOpenRequests: 1,
	}
}

func TestNodeBreakerClosedAllowsExecution(t *testing.T) {
	nb := NewNodeBreaker("node-a", testBreakerConfig(), &core.NoOpLogger{})

	if nb.GetState() != "closed" {
		t.Fatalf("GetState() = %q, want closed", nb.GetState())
	}
	if !nb.CanExecute() {
		t.Error("expected CanExecute to be true in closed state")
	}

	err := nb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
}

func TestNodeBreakerTripsAfterThreshold(t *testing.T) {
	cfg := testBreakerConfig()
	nb := NewNodeBreaker("node-b", cfg, &core.NoOpLogger{})
	boom := errors.New("boom")

	for i := 0; i < cfg.Threshold; i++ {
		if err := nb.Execute(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: Execute() error = %v, want %v", i, err, boom)
		}
	}

	if nb.GetState() != "open" {
		t.Fatalf("GetState() = %q, want open after %d consecutive failures", nb.GetState(), cfg.Threshold)
	}
	if nb.CanExecute() {
		t.Error("expected CanExecute to be false once open")
	}

	err := nb.Execute(context.Background(), func() error {
		t.Fatal("fn should not run while breaker is open")
		return nil
	})
	if !core.IsCircuitOpen(err) {
		t.Errorf("Execute() while open = %v, want a circuit-open error", err)
	}
}

func TestNodeBreakerHalfOpenRecovers(t *testing.T) {
	cfg := testBreakerConfig()
	nb := NewNodeBreaker("node-c", cfg, &core.NoOpLogger{})
	boom := errors.New("boom")

	for i := 0; i < cfg.Threshold; i++ {
		_ = nb.Execute(context.Background(), func() error { return boom })
	}
	if nb.GetState() != "open" {
		t.Fatalf("expected open state after tripping, got %q", nb.GetState())
	}

	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	if err := nb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should have succeeded, got %v", err)
	}
	if nb.GetState() != "closed" {
		t.Errorf("GetState() = %q, want closed after a successful half-open probe", nb.GetState())
	}
}

func TestNodeBreakerExecuteWithTimeout(t *testing.T) {
	nb := NewNodeBreaker("node-d", testBreakerConfig(), &core.NoOpLogger{})

	err := nb.ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, core.ErrTimeout) {
		t.Errorf("ExecuteWithTimeout() error = %v, want ErrTimeout", err)
	}
}

func TestNodeBreakerGetMetrics(t *testing.T) {
	nb := NewNodeBreaker("node-e", testBreakerConfig(), &core.NoOpLogger{})
	_ = nb.Execute(context.Background(), func() error { return nil })
	_ = nb.Execute(context.Background(), func() error { return errors.New("x") })

	metrics := nb.GetMetrics()
	if metrics["name"] != "node-e" {
		t.Errorf("metrics[name] = %v, want node-e", metrics["name"])
	}
	if metrics["total_successes"] != uint32(1) {
		t.Errorf("metrics[total_successes] = %v, want 1", metrics["total_successes"])
	}
	if metrics["total_failures"] != uint32(1) {
		t.Errorf("metrics[total_failures] = %v, want 1", metrics["total_failures"])
	}
}

func TestRegistryPerRunNodeIsolation(t *testing.T) {
	registry := NewRegistry(testBreakerConfig(), &core.NoOpLogger{})

	a := registry.Get("run-1", "node-x")
	b := registry.Get("run-1", "node-x")
	c := registry.Get("run-2", "node-x")

	if a != b {
		t.Error("Get() should return the same breaker for the same (run,node) pair")
	}
	if a == c {
		t.Error("Get() should return distinct breakers for distinct runs")
	}
}

func TestRegistryDropRun(t *testing.T) {
	registry := NewRegistry(testBreakerConfig(), &core.NoOpLogger{})

	before := registry.Get("run-1", "node-x")
	registry.DropRun("run-1")
	after := registry.Get("run-1", "node-x")

	if before == after {
		t.Error("DropRun should cause a fresh breaker to be created afterward")
	}

	other := registry.Get("run-2", "node-y")
	registry.DropRun("run-1")
	if registry.Get("run-2", "node-y") != other {
		t.Error("DropRun(run-1) should not affect run-2's breakers")
	}
}
