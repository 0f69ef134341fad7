package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alkimya/orchestrator-core/core"
)

// NodeBreaker is the per-(run,node) circuit breaker described in the
// Circuit Breaker component design: CLOSED/OPEN/HALF_OPEN, tripped after
// Threshold consecutive failures, cooling off for Timeout before a single
// HALF_OPEN probe is allowed through. State lives only in process memory —
// a NodeBreaker is never persisted or shared across instances.
//
// The state machine itself is delegated to sony/gobreaker; NodeBreaker
// adapts it to the core.CircuitBreaker port and adds the structured logging
// the rest of the framework expects at every transition.
type NodeBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker[any]
	logger core.Logger

	mu      sync.Mutex
	rejects int64
}

// NewNodeBreaker builds a NodeBreaker from the shared CircuitBreakerConfig
// (§4.B defaults: Threshold=5, Timeout=60s, HalfOpenRequests=1). Passing a
// nil logger is safe; NodeBreaker falls back to a no-op logger.
func NewNodeBreaker(name string, cfg core.CircuitBreakerConfig, logger core.Logger) *NodeBreaker {
	return newNodeBreaker(name, cfg, logger, nil)
}

// StateObserver is notified of every breaker state transition, in addition
// to the structured log line NewNodeBreaker always emits. Registry uses it
// to feed a metrics exporter without NodeBreaker knowing metrics exist.
type StateObserver func(name string, from, to string)

func newNodeBreaker(name string, cfg core.CircuitBreakerConfig, logger core.Logger, observer StateObserver) *NodeBreaker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("resilience")
	}

	nb := &NodeBreaker{name: name, logger: logger}

	threshold := uint32(cfg.Threshold)
	if threshold == 0 {
		threshold = 5
	}
	halfOpenMax := uint32(cfg.HalfOpenRequests)
	if halfOpenMax == 0 {
		halfOpenMax = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenMax,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			nb.logger.Info("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			if observer != nil {
				observer(name, from.String(), to.String())
			}
		},
	}

	nb.cb = gobreaker.NewCircuitBreaker[any](settings)
	return nb
}

// Execute runs fn with circuit breaker protection. A rejected call returns
// core.ErrCircuitBreakerOpen; this happens before fn ever runs, so the
// caller's retry wrapper (which never retries a breaker-open rejection)
// never gets invoked for it.
func (b *NodeBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		b.mu.Lock()
		b.rejects++
		b.mu.Unlock()
		b.logger.Warn("circuit breaker rejected execution", map[string]interface{}{
			"breaker": b.name,
			"state":   b.cb.State().String(),
		})
		return fmt.Errorf("breaker %s: %w", b.name, core.ErrCircuitBreakerOpen)
	}
	return err
}

// ExecuteWithTimeout runs fn under both circuit breaker protection and a
// deadline, used by the Pipeline Executor's per-node breaker gate.
func (b *NodeBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	return b.Execute(ctx, func() error {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return fmt.Errorf("node execution: %w", core.ErrTimeout)
		}
	})
}

// GetState returns "closed", "open" or "half-open".
func (b *NodeBreaker) GetState() string {
	return b.cb.State().String()
}

// GetMetrics returns the gobreaker request counts plus the rejection count
// NodeBreaker tracks on top (gobreaker resets counts on every state change,
// so rejects are kept outside it).
func (b *NodeBreaker) GetMetrics() map[string]interface{} {
	counts := b.cb.Counts()
	b.mu.Lock()
	rejects := b.rejects
	b.mu.Unlock()
	return map[string]interface{}{
		"name":                  b.name,
		"state":                 b.cb.State().String(),
		"requests":              counts.Requests,
		"total_successes":       counts.TotalSuccesses,
		"total_failures":        counts.TotalFailures,
		"consecutive_successes": counts.ConsecutiveSuccesses,
		"consecutive_failures":  counts.ConsecutiveFailures,
		"rejected":              rejects,
	}
}

// Reset is a no-op placeholder satisfying the core.CircuitBreaker port.
// gobreaker has no manual reset; a NodeBreaker is reset in practice by
// discarding it — the Pipeline Executor drops the run's Registry entries
// when the run finishes, so there is never a live breaker to reset mid-run.
func (b *NodeBreaker) Reset() {}

// CanExecute reports whether the breaker would currently allow a call,
// without making one.
func (b *NodeBreaker) CanExecute() bool {
	return b.cb.State() != gobreaker.StateOpen
}

var _ core.CircuitBreaker = (*NodeBreaker)(nil)

// Registry holds one NodeBreaker per (run, node) pair, created lazily on
// first use and discarded with the run. It is deliberately in-memory only:
// circuit breaker state is never persisted or shared across instances.
type Registry struct {
	cfg      core.CircuitBreakerConfig
	logger   core.Logger
	observer StateObserver

	mu       sync.Mutex
	breakers map[string]*NodeBreaker
}

// NewRegistry builds a Registry using cfg as the default for every breaker
// it creates.
func NewRegistry(cfg core.CircuitBreakerConfig, logger core.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*NodeBreaker),
	}
}

// SetStateObserver wires fn to every breaker state transition produced by
// breakers this Registry creates after the call. Call it before the first
// Get for a given run. Intended for a metrics exporter's breaker-state
// gauge; Registry itself has no idea what fn does with the transition.
func (r *Registry) SetStateObserver(fn StateObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Get returns the NodeBreaker for (runID, nodeID), creating one on first
// access.
func (r *Registry) Get(runID, nodeID string) *NodeBreaker {
	key := runID + ":" + nodeID
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	observer := r.observer
	b := newNodeBreaker(key, r.cfg, r.logger, func(name, from, to string) {
		if observer != nil {
			observer(name, from, to)
		}
	})
	r.breakers[key] = b
	return b
}

// DropRun discards every breaker belonging to runID. Called by the Pipeline
// Executor once a run reaches a terminal state, so breaker state never
// outlives the run it was protecting.
func (r *Registry) DropRun(runID string) {
	prefix := runID + ":"
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.breakers {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(r.breakers, key)
		}
	}
}
