// Package shutdown implements the Shutdown Controller (§4.I): a single
// reverse-dependency teardown sequence that drains traffic before stopping
// the components that produce it, and closes the shared store connection
// pool last so any in-flight persistence call has somewhere to write to.
package shutdown

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/pipeline"
	"golang.org/x/sync/errgroup"
)

// Loop is the subset of scheduler.Loop the controller needs, kept as an
// interface here so shutdown does not import scheduler.
type Loop interface {
	Stop()
	Done() <-chan struct{}
}

// Store is the subset of store.DB the controller closes last.
type Store interface {
	Close() error
}

// Controller runs the shutdown sequence exactly once and exposes a
// shutting_down flag that the readiness probe reads to start returning 503
// before any component actually stops.
type Controller struct {
	Loop   Loop
	Runs   *pipeline.RunManager
	Store  Store
	Logger core.Logger
	Config core.ShutdownConfig

	shuttingDown atomic.Bool
}

func NewController(loop Loop, runs *pipeline.RunManager, store Store, cfg core.ShutdownConfig, logger core.Logger) *Controller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("shutdown")
	}
	return &Controller{Loop: loop, Runs: runs, Store: store, Config: cfg, Logger: logger}
}

// ShuttingDown reports whether Shutdown has been called. The readiness
// handler checks this before the rest of the sequence has even started
// draining, so load balancers stop routing new traffic immediately.
func (c *Controller) ShuttingDown() bool {
	return c.shuttingDown.Load()
}

// Shutdown runs the six-step teardown sequence. It is safe to call only
// once; a second call is a no-op and returns nil immediately.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	c.Logger.Info("shutdown: entering lb drain window", map[string]interface{}{
		"window": c.Config.LBDrainWindow.String(),
	})
	c.sleep(ctx, c.Config.LBDrainWindow)

	if c.Loop != nil {
		c.Logger.Info("shutdown: stopping scheduler loop", nil)
		c.Loop.Stop()
		select {
		case <-c.Loop.Done():
		case <-ctx.Done():
			c.Logger.Warn("shutdown: context cancelled waiting for scheduler loop to stop", nil)
		}
	}

	c.Logger.Info("shutdown: entering task drain window", map[string]interface{}{
		"window": c.Config.TaskDrainWindow.String(),
	})
	c.sleep(ctx, c.Config.TaskDrainWindow)

	if c.Runs != nil {
		c.drainRuns(ctx)
	}

	if c.Store != nil {
		c.Logger.Info("shutdown: closing store connection pool", nil)
		if err := c.Store.Close(); err != nil {
			c.Logger.Error("shutdown: failed to close store", map[string]interface{}{"error": err.Error()})
			return err
		}
	}

	c.Logger.Info("shutdown: complete", nil)
	return nil
}

// drainRuns cancels every still-active pipeline run, giving each the
// ExecutorTimeout drain window before the run's own context deadline forces
// it to stop. Cancellations run concurrently via errgroup so one slow run
// does not delay the others' drain windows.
func (c *Controller) drainRuns(ctx context.Context) {
	active := c.Runs.ActiveRuns()
	if len(active) == 0 {
		return
	}
	c.Logger.Info("shutdown: draining active pipeline runs", map[string]interface{}{
		"count": len(active),
	})

	g, _ := errgroup.WithContext(ctx)
	for _, runID := range active {
		runID := runID
		g.Go(func() error {
			c.Runs.Cancel(runID, c.Config.ExecutorTimeout)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
