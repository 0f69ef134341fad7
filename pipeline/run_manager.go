package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/alkimya/orchestrator-core/core"
)

// RunManager is the singleton owning every live run's task handle and
// Executor (§4.F). It is the sole writer of the "running" map.
type RunManager struct {
	logger core.Logger

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	executors map[string]*Executor
	done      map[string]chan struct{}
}

func NewRunManager(logger core.Logger) *RunManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("pipeline.run_manager")
	}
	return &RunManager{
		logger:    logger,
		running:   make(map[string]context.CancelFunc),
		executors: make(map[string]*Executor),
		done:      make(map[string]chan struct{}),
	}
}

// Start spawns executor's run under a per-run timeout. The timeout is
// enforced by a context deadline around the Executor task; on timeout the
// Executor itself observes ctx.Err() and sets the run to `timeout`.
//
// The running, executors and done maps are cleaned up inside a deferred
// function in the goroutine so
// that completion, timeout, cancellation, and unexpected panic all remove
// the entry — the property tested as "cancel leaves no zombies" (§4.F).
func (m *RunManager) Start(ctx context.Context, runID string, executor *Executor, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	doneCh := make(chan struct{})

	m.mu.Lock()
	m.running[runID] = cancel
	m.executors[runID] = executor
	m.done[runID] = doneCh
	m.mu.Unlock()

	go func() {
		defer close(doneCh)
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.running, runID)
			delete(m.executors, runID)
			delete(m.done, runID)
			m.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				executor.finish(runCtx, RunFailed, "internal executor panic")
				m.logger.Error("pipeline executor panicked", map[string]interface{}{
					"run_id": runID,
					"panic":  r,
				})
			}
		}()

		executor.Start(runCtx)
	}()
}

// Cancel performs the two-phase cancellation (§4.F): it flips the
// Executor's cooperative flag, waits a short drain window, then force-
// cancels the context if the run hasn't reached a terminal state.
// Returns true iff a live run matched runID.
func (m *RunManager) Cancel(runID string, drainWindow time.Duration) bool {
	m.mu.Lock()
	executor, hasExecutor := m.executors[runID]
	cancel, hasRunning := m.running[runID]
	doneCh, hasDone := m.done[runID]
	m.mu.Unlock()

	if !hasExecutor && !hasRunning {
		return false
	}

	if hasExecutor {
		executor.RequestCancel()
	}

	if hasDone {
		select {
		case <-doneCh:
			return true
		case <-time.After(drainWindow):
		}
	}

	if hasRunning {
		cancel()
	}
	if hasDone {
		<-doneCh
	}
	return true
}

// Wait blocks until runID's executor goroutine has exited, or returns
// immediately if runID is not (or no longer) tracked. Used by callers that
// need a run to finish synchronously, such as the Action Dispatcher's
// execute_pipeline handler.
func (m *RunManager) Wait(runID string) {
	m.mu.Lock()
	doneCh, ok := m.done[runID]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-doneCh
}

// ActiveRuns returns the set of run ids currently owned by the manager.
func (m *RunManager) ActiveRuns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// IsActive reports whether runID is still tracked.
func (m *RunManager) IsActive(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[runID]
	return ok
}
