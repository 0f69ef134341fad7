package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/alkimya/orchestrator-core/core"
	"github.com/alkimya/orchestrator-core/lock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// ActionStore is the persistence port the Scheduler Loop needs: loading
// due and missed actions, recomputing schedule state, and recording
// dispatch attempts.
type ActionStore interface {
	DueActions(ctx context.Context, now time.Time) ([]ScheduledAction, error)
	MissedActions(ctx context.Context, now time.Time) ([]ScheduledAction, error)
	RecentActionRun(ctx context.Context, actionID int64, since time.Time) (bool, error)
	SaveAction(ctx context.Context, action *ScheduledAction) error
	SaveActionRun(ctx context.Context, run *ScheduledActionRun) error
}

// Loop is the continuous background process that advances active
// ScheduledAction rows to their next run and dispatches due ones (§4.H).
type Loop struct {
	Store    ActionStore
	Advisory lock.Advisory
	Dispatch ActionDispatchContext
	Logger   core.Logger

	TickInterval   time.Duration
	TickJitter     time.Duration
	RecoveryWindow time.Duration

	mu             sync.Mutex
	runningActions map[int64]bool

	cronCache *core.TtlCache[int64, cron.Schedule]

	// recoveryGroup collapses concurrent RecentActionRun dedup queries for
	// the same action id into one, since recover() now checks every
	// missed action concurrently.
	recoveryGroup singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop builds a Loop from the §4.H tuning in cfg. Advisory may be
// lock.NoopAdvisory{} for single-instance deployments.
func NewLoop(store ActionStore, advisory lock.Advisory, dc ActionDispatchContext, cfg core.SchedulerConfig, logger core.Logger) *Loop {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cl, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cl.WithComponent("scheduler")
	}
	if advisory == nil {
		advisory = lock.NoopAdvisory{}
	}
	return &Loop{
		Store:          store,
		Advisory:       advisory,
		Dispatch:       dc,
		Logger:         logger,
		TickInterval:   cfg.TickInterval,
		TickJitter:     cfg.TickJitter,
		RecoveryWindow: cfg.RecoveryWindow,
		runningActions: make(map[int64]bool),
		cronCache:      core.NewTtlCache[int64, cron.Schedule](),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Run blocks, ticking at TickInterval (plus jitter) until Stop is called
// or ctx is cancelled. It performs crash recovery once before the first
// tick (§4.H).
func (l *Loop) Run(ctx context.Context) {
	defer close(l.doneCh)

	l.recover(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(l.nextInterval()):
		}

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		l.tick(ctx)
	}
}

// Stop requests the loop to finish its current tick and spawn no more
// tasks. It does not wait for in-flight dispatches to complete.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

func (l *Loop) nextInterval() time.Duration {
	interval := l.TickInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if l.TickJitter > 0 {
		interval += time.Duration(rand.Int63n(int64(l.TickJitter)))
	}
	return interval
}

// tick loads due actions and spawns one detached dispatch per candidate,
// guarded by the in-process running set and the advisory lock (§4.H).
func (l *Loop) tick(ctx context.Context) {
	due, err := l.Store.DueActions(ctx, time.Now())
	if err != nil {
		l.Logger.Error("scheduler tick: failed to load due actions", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for i := range due {
		action := due[i]
		if !l.claim(action.ID) {
			continue
		}
		go l.dispatchOne(ctx, action, TriggeredByScheduler)
	}
}

// claim inserts id into the running set if absent. It must run before any
// task is spawned — the single biggest race the design must prevent is
// another tick observing the same action as "not running" because the
// spawn has not yet flipped the flag (§4.H).
func (l *Loop) claim(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runningActions[id] {
		return false
	}
	l.runningActions[id] = true
	return true
}

func (l *Loop) release(id int64) {
	l.mu.Lock()
	delete(l.runningActions, id)
	l.mu.Unlock()
}

// dispatchOne runs the full per-action sequence of §4.H step 2: acquire
// the advisory lock, record the run, dispatch, advance the schedule, and
// release the running-set claim.
func (l *Loop) dispatchOne(ctx context.Context, action ScheduledAction, triggeredBy TriggeredBy) {
	defer l.release(action.ID)

	triggeredAt := time.Now()
	acquired, lockErr := l.Advisory.Do(ctx, lock.SchedulerNamespace, action.ID, func(lockCtx context.Context) error {
		return l.runClaimed(lockCtx, &action, triggeredAt, triggeredBy)
	})
	if lockErr != nil {
		l.Logger.Warn("scheduler: dispatch under advisory lock failed", map[string]interface{}{
			"action_id": action.ID, "error": lockErr.Error(),
		})
	}
	if !acquired {
		// Another instance owns this action's lock this tick.
		return
	}
}

func (l *Loop) runClaimed(ctx context.Context, action *ScheduledAction, triggeredAt time.Time, triggeredBy TriggeredBy) error {
	run := &ScheduledActionRun{
		ID:          uuid.NewString(),
		ActionID:    action.ID,
		TriggeredAt: triggeredAt,
		TriggeredBy: triggeredBy,
		Status:      ActionRunRunning,
		StartedAt:   &triggeredAt,
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := func() (res ActionResult) {
		defer func() {
			if r := recover(); r != nil {
				res = ActionResult{Status: "failed", Error: fmt.Sprintf("action handler panic: %v", r)}
			}
		}()
		return Dispatch(dispatchCtx, action, l.Dispatch)
	}()

	now := time.Now()
	run.CompletedAt = &now
	if result.Status == "completed" {
		run.Status = ActionRunCompleted
	} else {
		run.Status = ActionRunFailed
		run.Error = result.Error
	}

	if err := l.Store.SaveActionRun(ctx, run); err != nil {
		l.Logger.Warn("scheduler: failed to persist action run", map[string]interface{}{
			"action_id": action.ID, "error": err.Error(),
		})
	}

	action.ExecutionCount++
	action.LastRunStatus = string(run.Status)
	l.advanceSchedule(action, triggeredAt)

	if err := l.Store.SaveAction(ctx, action); err != nil {
		l.Logger.Warn("scheduler: failed to persist action state", map[string]interface{}{
			"action_id": action.ID, "error": err.Error(),
		})
	}

	return nil
}

// cronCacheTTL bounds how long a parsed cron.Schedule is reused before
// parseCron re-parses the expression, so an action whose cron_expression
// changed in storage is picked up within one cache generation.
const cronCacheTTL = 10 * time.Minute

// parseCron returns actionID's parsed cron.Schedule, memoized so a tick
// doesn't re-parse the same expression on every dispatch.
func (l *Loop) parseCron(actionID int64, expr string) (cron.Schedule, error) {
	if l.cronCache != nil {
		if schedule, ok := l.cronCache.Get(actionID); ok {
			return schedule, nil
		}
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	if l.cronCache != nil {
		l.cronCache.Set(actionID, schedule, cronCacheTTL)
	}
	return schedule, nil
}

// advanceSchedule recomputes next_run_at per §4.H step 4: cron advances
// to the next occurrence, interval advances by a fixed offset, once
// expires, and event never auto-advances.
func (l *Loop) advanceSchedule(action *ScheduledAction, from time.Time) {
	switch action.ScheduleKind {
	case ScheduleCron:
		schedule, err := l.parseCron(action.ID, action.CronExpression)
		if err != nil {
			action.NextRunAt = nil
			action.Status = ActionStatusDisabled
			return
		}
		next := schedule.Next(from)
		action.NextRunAt = &next
	case ScheduleInterval:
		next := from.Add(time.Duration(action.IntervalSeconds) * time.Second)
		action.NextRunAt = &next
	case ScheduleOnce:
		action.NextRunAt = nil
		action.Status = ActionStatusExpired
	case ScheduleEvent:
		// No automatic advance; an external trigger sets next_run_at again.
	}
}

// recover performs the crash-recovery deduplicating restart (§4.H): for
// every active action whose scheduled run was missed, dispatch exactly
// one recovery run unless a matching run already exists for that window.
// Every missed action is checked concurrently; recoverOne's singleflight
// call collapses duplicate RecentActionRun queries for the same action id.
func (l *Loop) recover(ctx context.Context) {
	missed, err := l.Store.MissedActions(ctx, time.Now())
	if err != nil {
		l.Logger.Error("scheduler recovery: failed to load missed actions", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	var wg sync.WaitGroup
	for i := range missed {
		action := missed[i]
		if action.NextRunAt == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.recoverOne(ctx, action)
		}()
	}
	wg.Wait()
}

// recoverOne decides whether action's missed window already has a
// recorded run and, if not, dispatches one recovery run.
func (l *Loop) recoverOne(ctx context.Context, action ScheduledAction) {
	since := action.NextRunAt.Add(-l.RecoveryWindow)

	key := strconv.FormatInt(action.ID, 10)
	existsAny, err, _ := l.recoveryGroup.Do(key, func() (interface{}, error) {
		return l.Store.RecentActionRun(ctx, action.ID, since)
	})
	if err != nil {
		l.Logger.Warn("scheduler recovery: dedup query failed, skipping (fail closed)", map[string]interface{}{
			"action_id": action.ID, "error": err.Error(),
		})
		return
	}

	if existsAny.(bool) {
		l.advanceSchedule(&action, *action.NextRunAt)
		if err := l.Store.SaveAction(ctx, &action); err != nil {
			l.Logger.Warn("scheduler recovery: failed to advance schedule", map[string]interface{}{
				"action_id": action.ID, "error": err.Error(),
			})
		}
		return
	}

	if !l.claim(action.ID) {
		return
	}
	l.dispatchOne(ctx, action, TriggeredByRecovery)
}
