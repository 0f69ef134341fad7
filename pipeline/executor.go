package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/resilience"
)

// Store is the persistence port the Executor writes NodeRun/PipelineRun
// rows through (§6's pipeline_runs/pipeline_node_runs tables). It is
// intentionally narrow — the full store schema lives in package store;
// the Executor only needs to read and write run state.
type Store interface {
	SaveRun(ctx context.Context, run *PipelineRun) error
	SaveNodeRun(ctx context.Context, nodeRun *NodeRun) error
}

// Executor drives one run of one validated PipelineDefinition from start
// to terminal state (§4.E).
type Executor struct {
	Definition *PipelineDefinition
	Run        *PipelineRun

	Breakers  *resilience.Registry
	Store     Store
	Sink      EventSink
	Logger    core.Logger
	Dispatch  DispatchContext
	Telemetry core.Telemetry

	mu          sync.Mutex
	cancelled   bool
	nodeOutputs map[string]map[string]interface{}
	skipped     map[string]bool
}

// NewExecutor constructs an Executor ready to Run. Nil Store/Sink/Logger
// default to their no-op implementations so callers (including tests) can
// omit whichever capability they don't need. A nil Telemetry leaves run
// and node dispatch unspanned.
func NewExecutor(def *PipelineDefinition, run *PipelineRun, breakers *resilience.Registry, store Store, sink EventSink, logger core.Logger, dc DispatchContext) *Executor {
	if sink == nil {
		sink = NoopEventSink{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("pipeline.executor")
	}
	return &Executor{
		Definition:  def,
		Run:         run,
		Breakers:    breakers,
		Store:       store,
		Sink:        sink,
		Logger:      logger,
		Dispatch:    dc,
		Telemetry:   &core.NoOpTelemetry{},
		nodeOutputs: make(map[string]map[string]interface{}),
		skipped:     make(map[string]bool),
	}
}

// RequestCancel sets the cooperative cancellation flag the traversal loop
// checks between nodes (§4.F's two-phase cancel, step 2 of §4.E).
func (e *Executor) RequestCancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *Executor) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Start executes the pipeline to completion, cancellation, or timeout. ctx
// should already carry Definition.Timeout (the Run Manager is responsible
// for the per-run timeout guard, §4.F); Start itself only honors
// ctx.Done().
func (e *Executor) Start(ctx context.Context) {
	if e.Telemetry == nil {
		e.Telemetry = &core.NoOpTelemetry{}
	}
	var span core.Span
	ctx, span = e.Telemetry.StartSpan(ctx, "pipeline.run")
	span.SetAttribute("run_id", e.Run.ID)
	span.SetAttribute("pipeline_id", e.Definition.ID)
	defer span.End()

	order, err := e.Definition.TopologicalOrder()
	if err != nil {
		e.finish(ctx, RunFailed, fmt.Sprintf("topological order: %v", err))
		return
	}

	e.Run.Status = RunRunning
	emitSwallowed(ctx, e.Sink, e.Logger, EventRunStarted, map[string]interface{}{
		"run_id":      e.Run.ID,
		"pipeline_id": e.Definition.ID,
	})

	// Pre-populate trigger-data as every trigger node's output (§4.E
	// "Output passing").
	for _, n := range e.Definition.Nodes {
		if n.Kind == KindTrigger {
			e.nodeOutputs[n.ID] = e.Run.TriggerData
		}
	}

	var firstFailure error
	stopped := false

	for _, nodeID := range order {
		node, _ := e.Definition.NodeByID(nodeID)
		e.Run.CurrentNode = nodeID

		// Step 1: skip-propagation gate.
		if e.skipped[nodeID] || e.allPredecessorsSkipped(node) {
			e.markSkipped(ctx, node)
			continue
		}

		// Step 2: cancellation gate.
		if e.isCancelled() {
			e.finish(ctx, RunCancelled, "")
			return
		}
		if ctx.Err() != nil {
			e.finish(ctx, RunTimeout, "")
			return
		}

		if stopped {
			// A prior node failed; stop-and-fail semantics (§4.E) means we
			// do not dispatch further nodes. Every remaining node in the
			// order, downstream of the failed node or not, is recorded as
			// skipped for bookkeeping clarity.
			e.markSkipped(ctx, node)
			continue
		}

		outcome := e.runNode(ctx, node)
		if outcome.err != nil && firstFailure == nil {
			firstFailure = outcome.err
			stopped = true
		}
	}

	// Cancellation, even one observed only after a node already failed
	// mid-dispatch, takes priority: it was explicitly requested, unlike a
	// context deadline.
	if e.isCancelled() {
		e.finish(ctx, RunCancelled, "")
		return
	}
	if ctx.Err() != nil {
		e.finish(ctx, RunTimeout, "")
		return
	}
	if firstFailure != nil {
		span.RecordError(firstFailure)
		e.finish(ctx, RunFailed, firstFailure.Error())
		return
	}
	e.finish(ctx, RunCompleted, "")
}

type nodeOutcome struct {
	err error
}

// runNode executes steps 3-6 of §4.E for a single node.
func (e *Executor) runNode(ctx context.Context, node Node) nodeOutcome {
	var nodeSpan core.Span
	ctx, nodeSpan = e.Telemetry.StartSpan(ctx, "pipeline.node")
	nodeSpan.SetAttribute("run_id", e.Run.ID)
	nodeSpan.SetAttribute("node_id", node.ID)
	nodeSpan.SetAttribute("node_kind", string(node.Kind))
	defer nodeSpan.End()

	inputs := e.inputsFor(node)

	nodeRun := &NodeRun{
		RunID:        e.Run.ID,
		NodeID:       node.ID,
		Kind:         node.Kind,
		Status:       NodeRunRunning,
		InputSummary: inputs,
		StartedAt:    time.Now(),
	}

	emitSwallowed(ctx, e.Sink, e.Logger, EventNodeStarted, map[string]interface{}{
		"run_id": e.Run.ID, "node_id": node.ID,
	})

	var breaker *resilience.NodeBreaker
	if e.Breakers != nil {
		breaker = e.Breakers.Get(e.Run.ID, node.ID)
	}

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:   e.Definition.MaxRetriesPerNode + 1,
		InitialDelay:  e.Definition.RetryBackoffBase,
		MaxDelay:      e.Definition.RetryBackoffMax,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
	retryCfg.OnRetry = func(attempt int, retryErr error) {
		emitSwallowed(ctx, e.Sink, e.Logger, EventNodeRetrying, map[string]interface{}{
			"run_id": e.Run.ID, "node_id": node.ID, "attempt": attempt, "error": retryErr.Error(),
		})
	}

	var output map[string]interface{}
	var dispatchErr error
	attempts := 0

	exec := func() error {
		attempts++
		dc := e.Dispatch
		dc.Context = ctx
		dc.RunID = e.Run.ID
		dc.TriggerData = e.Run.TriggerData
		out, err := Dispatch(node, inputs, dc)
		if err != nil {
			dispatchErr = err
			return err
		}
		output = out
		dispatchErr = nil
		return nil
	}

	// A NodeConfigError must never be recorded as a breaker failure (§4.E
	// step 4: "no breaker record" for config errors). configErr captures
	// one so it can be returned to the retry wrapper without passing
	// through the breaker's failure counting.
	var configErr error
	var runErr error
	if breaker != nil {
		breakerFn := func() error {
			err := exec()
			if err != nil && core.IsConfigError(err) {
				configErr = err
				return nil
			}
			return err
		}
		runErr = resilience.Retry(ctx, retryCfg, func() error {
			if err := breaker.Execute(ctx, breakerFn); err != nil {
				return err
			}
			return configErr
		})
	} else {
		runErr = resilience.Retry(ctx, retryCfg, exec)
	}

	nodeRun.RetryCount = attempts - 1
	if nodeRun.RetryCount < 0 {
		nodeRun.RetryCount = 0
	}

	now := time.Now()
	nodeRun.CompletedAt = &now
	nodeRun.DurationMS = now.Sub(nodeRun.StartedAt).Milliseconds()

	if runErr == nil {
		nodeRun.Status = NodeRunCompleted
		nodeRun.OutputSummary = output
		e.setOutput(node.ID, output)
		e.persistNodeRun(ctx, nodeRun)
		emitSwallowed(ctx, e.Sink, e.Logger, EventNodeCompleted, map[string]interface{}{
			"run_id": e.Run.ID, "node_id": node.ID,
		})

		if node.Kind == KindCondition && !truthy(output["result"]) {
			e.propagateSkip(ctx, node.ID)
		}
		return nodeOutcome{}
	}

	nodeRun.Status = NodeRunFailed
	finalErr := dispatchErr
	if finalErr == nil {
		finalErr = runErr
	}
	nodeRun.Error = finalErr.Error()
	nodeSpan.RecordError(finalErr)
	e.persistNodeRun(ctx, nodeRun)
	emitSwallowed(ctx, e.Sink, e.Logger, EventNodeFailed, map[string]interface{}{
		"run_id": e.Run.ID, "node_id": node.ID, "error": finalErr.Error(),
	})
	return nodeOutcome{err: fmt.Errorf("node %s: %w", node.ID, finalErr)}
}

func (e *Executor) inputsFor(node Node) map[string]interface{} {
	preds := e.Definition.Predecessors(node.ID)
	if len(preds) == 0 {
		return map[string]interface{}{}
	}
	inputs := make(map[string]interface{}, len(preds))
	for _, p := range preds {
		if out, ok := e.nodeOutputs[p]; ok {
			inputs[p] = out
		}
	}
	return inputs
}

func (e *Executor) setOutput(nodeID string, output map[string]interface{}) {
	e.mu.Lock()
	e.nodeOutputs[nodeID] = output
	e.mu.Unlock()
}

func (e *Executor) allPredecessorsSkipped(node Node) bool {
	preds := e.Definition.Predecessors(node.ID)
	if len(preds) == 0 {
		return false
	}
	for _, p := range preds {
		if !e.skipped[p] {
			return false
		}
	}
	return true
}

func (e *Executor) markSkipped(ctx context.Context, node Node) {
	if e.skipped[node.ID] {
		return
	}
	e.skipped[node.ID] = true
	emitSwallowed(ctx, e.Sink, e.Logger, EventNodeSkipped, map[string]interface{}{
		"run_id": e.Run.ID, "node_id": node.ID,
	})
	nodeRun := &NodeRun{
		RunID:  e.Run.ID,
		NodeID: node.ID,
		Kind:   node.Kind,
		Status: NodeRunSkipped,
	}
	e.persistNodeRun(ctx, nodeRun)
}

// propagateSkip performs the breadth-first sweep §4.E describes: a
// condition node whose output was falsy seeds the skip set, and every
// downstream-only successor (reachable only through already-skipped
// nodes) joins it. The condition node itself is included as a skip source
// during eligibility evaluation so skip propagation isn't blocked by the
// condition node being `completed`.
func (e *Executor) propagateSkip(ctx context.Context, conditionNodeID string) {
	skipSources := map[string]bool{conditionNodeID: true}

	queue := []string{conditionNodeID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, succID := range e.Definition.Successors(current) {
			if skipSources[succID] {
				continue
			}
			downstreamOnly := true
			for _, predID := range e.Definition.Predecessors(succID) {
				if !skipSources[predID] {
					downstreamOnly = false
					break
				}
			}
			if !downstreamOnly {
				continue
			}
			skipSources[succID] = true
			node, ok := e.Definition.NodeByID(succID)
			if ok {
				e.markSkipped(ctx, node)
			}
			queue = append(queue, succID)
		}
	}
}

func (e *Executor) persistNodeRun(ctx context.Context, nodeRun *NodeRun) {
	if e.Store == nil {
		return
	}
	if err := e.Store.SaveNodeRun(ctx, nodeRun); err != nil {
		e.Logger.Warn("failed to persist node run, continuing", map[string]interface{}{
			"run_id": e.Run.ID, "node_id": nodeRun.NodeID, "error": err.Error(),
		})
	}
}

func (e *Executor) finish(ctx context.Context, status RunStatus, errMsg string) {
	e.Run.Status = status
	e.Run.Error = errMsg
	now := time.Now()
	e.Run.CompletedAt = &now

	if e.Store != nil {
		if err := e.Store.SaveRun(ctx, e.Run); err != nil {
			e.Logger.Warn("failed to persist run status, continuing", map[string]interface{}{
				"run_id": e.Run.ID, "error": err.Error(),
			})
		}
	}

	if e.Breakers != nil {
		e.Breakers.DropRun(e.Run.ID)
	}

	var event string
	switch status {
	case RunCompleted:
		event = EventRunCompleted
	case RunFailed:
		event = EventRunFailed
	case RunCancelled:
		event = EventRunCancelled
	case RunTimeout:
		event = EventRunTimeout
	default:
		return
	}
	emitSwallowed(ctx, e.Sink, e.Logger, event, map[string]interface{}{
		"run_id": e.Run.ID, "error": errMsg,
	})
}
