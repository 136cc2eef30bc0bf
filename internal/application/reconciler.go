package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

const (
	DefaultReconcileInterval = 30 * time.Second
	DefaultReconcileWorkers  = 4
)

// Reconciler periodically drives every pending and in-progress rollout
// one step forward by running a reconcile workflow per rollout. Paused
// rollouts are left alone; their outcomes arrive through
// [OutcomeService].
type Reconciler struct {
	Rollouts domain.RolloutRepository
	Workflow domain.ReconcileRunner
	Logger   zerolog.Logger
	Now      func() time.Time

	Interval           time.Duration
	Workers            int
	MaxConflictRetries int

	running atomic.Bool

	mu          sync.Mutex
	checkpoints map[domain.RolloutID]domain.PhaseCheckpoint
}

// TickSummary reports what one [Reconciler.Tick] did.
type TickSummary struct {
	Rollouts  int
	Errors    int
	Conflicts int
	Decisions map[domain.ReconcileDecision]int
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reconciler) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return DefaultReconcileWorkers
}

func (r *Reconciler) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return DefaultReconcileInterval
}

// Run ticks immediately and then every Interval until ctx is done. A
// tick that finds the previous one still running is skipped.
func (r *Reconciler) Run(ctx context.Context) error {
	c := cron.New()
	c.Schedule(cron.Every(r.interval()), cron.FuncJob(func() { r.tickOnce(ctx) }))
	c.Start()
	defer c.Stop()

	r.Logger.Info().Dur("interval", r.interval()).Int("workers", r.workers()).Msg("reconciler started")
	r.tickOnce(ctx)
	<-ctx.Done()
	r.Logger.Info().Msg("reconciler stopped")
	return nil
}

func (r *Reconciler) tickOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !r.running.CompareAndSwap(false, true) {
		observability.RecordSkippedTick()
		r.Logger.Warn().Msg("previous reconcile tick still running; skipping")
		return
	}
	defer r.running.Store(false)

	if _, err := r.Tick(ctx); err != nil {
		r.Logger.Error().Err(err).Msg("reconcile tick failed")
	}
}

// Tick reconciles every pending and in-progress rollout once, in parallel
// with at most Workers passes at a time. A failure on one rollout is
// logged and counted and does not affect the others.
func (r *Reconciler) Tick(ctx context.Context) (TickSummary, error) {
	start := time.Now()
	defer func() { observability.RecordTick(time.Since(start)) }()

	rollouts, err := r.Rollouts.ListByStatus(ctx, domain.RolloutStatusPending, domain.RolloutStatusInProgress)
	if err != nil {
		return TickSummary{}, fmt.Errorf("list rollouts: %w", err)
	}

	r.pruneCheckpoints(rollouts)

	summary := TickSummary{Rollouts: len(rollouts), Decisions: make(map[domain.ReconcileDecision]int)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.workers())
	)
	for _, ro := range rollouts {
		wg.Add(1)
		sem <- struct{}{}
		go func(id domain.RolloutID) {
			defer wg.Done()
			defer func() { <-sem }()

			res, conflicts, err := r.reconcileIsolated(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			summary.Conflicts += conflicts
			if err != nil {
				summary.Errors++
				return
			}
			summary.Decisions[res.Decision]++
		}(ro.ID)
	}
	wg.Wait()

	r.Logger.Debug().
		Int("rollouts", summary.Rollouts).
		Int("errors", summary.Errors).
		Int("conflicts", summary.Conflicts).
		Dur("took", time.Since(start)).
		Msg("reconcile tick")
	return summary, nil
}

// Reconcile runs one reconcile pass for id outside the schedule.
func (r *Reconciler) Reconcile(ctx context.Context, id domain.RolloutID) (domain.ReconcileResult, error) {
	res, _, err := r.reconcile(ctx, id)
	return res, err
}

// reconcileIsolated runs reconcile and turns a panic raised while
// processing id into an error, so the other rollouts of the tick proceed.
func (r *Reconciler) reconcileIsolated(ctx context.Context, id domain.RolloutID) (res domain.ReconcileResult, conflicts int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rollout %s: reconcile panicked: %v", id, p)
			observability.RecordReconcileError()
			r.Logger.Error().
				Str("rollout_id", string(id)).
				Str("stack", string(debug.Stack())).
				Err(err).
				Msg("reconcile pass panicked")
		}
	}()
	return r.reconcile(ctx, id)
}

// reconcile runs passes for id until one is not a conflict or the retry
// budget is spent. It returns the number of conflicts seen.
func (r *Reconciler) reconcile(ctx context.Context, id domain.RolloutID) (domain.ReconcileResult, int, error) {
	logger := r.Logger.With().Str("rollout_id", string(id)).Logger()
	retries := r.MaxConflictRetries
	if retries <= 0 {
		retries = DefaultMaxConflictRetries
	}

	conflicts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		res, err := r.runPass(ctx, id)
		if err != nil {
			observability.RecordReconcileError()
			logger.Error().Err(err).Msg("reconcile pass failed")
			return domain.ReconcileResult{}, conflicts, err
		}
		observability.RecordReconcile(res)
		if res.Decision == domain.DecisionConflict {
			conflicts++
			logger.Debug().Int("attempt", attempt+1).Msg("rollout changed during reconcile; retrying")
			continue
		}
		r.keepCheckpoint(id, res)
		logEvent := logger.Debug()
		if res.Decision != domain.DecisionWaiting && res.Decision != domain.DecisionHolding {
			logEvent = logger.Info()
		}
		logEvent.
			Str("decision", string(res.Decision)).
			Str("status", string(res.Status)).
			Int("phase", res.CurrentPhaseNumber+1).
			Int("outcomes", res.OutcomesRecorded).
			Int("dispatched", res.Dispatched).
			Msg("reconciled")
		return res, conflicts, nil
	}

	err := fmt.Errorf("rollout %s: %w after %d attempts", id, domain.ErrConflict, retries+1)
	observability.RecordReconcileError()
	logger.Warn().Err(err).Msg("giving up on rollout for this tick")
	return domain.ReconcileResult{}, conflicts, err
}

func (r *Reconciler) runPass(ctx context.Context, id domain.RolloutID) (domain.ReconcileResult, error) {
	handle, err := r.Workflow.Run(ctx, domain.ReconcileInput{
		RolloutID:  id,
		Now:        r.now(),
		Checkpoint: r.checkpoint(id),
	})
	if err != nil {
		return domain.ReconcileResult{}, fmt.Errorf("start reconcile workflow: %w", err)
	}
	res, err := handle.AwaitResult(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.ReconcileResult{}, err
		}
		return domain.ReconcileResult{}, fmt.Errorf("reconcile workflow %s: %w", handle.WorkflowID(), err)
	}
	return res, nil
}

func (r *Reconciler) checkpoint(id domain.RolloutID) *domain.PhaseCheckpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.checkpoints[id]
	if !ok {
		return nil
	}
	return &cp
}

func (r *Reconciler) keepCheckpoint(id domain.RolloutID, res domain.ReconcileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Checkpoint == nil {
		delete(r.checkpoints, id)
		return
	}
	if r.checkpoints == nil {
		r.checkpoints = make(map[domain.RolloutID]domain.PhaseCheckpoint)
	}
	r.checkpoints[id] = *res.Checkpoint
}

// pruneCheckpoints drops checkpoints of rollouts that are no longer
// listed, such as paused or terminal ones, so a resumed rollout restarts
// its hold instead of counting the paused time.
func (r *Reconciler) pruneCheckpoints(listed []domain.Rollout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.checkpoints) == 0 {
		return
	}
	active := make(map[domain.RolloutID]struct{}, len(listed))
	for _, ro := range listed {
		active[ro.ID] = struct{}{}
	}
	for id := range r.checkpoints {
		if _, ok := active[id]; !ok {
			delete(r.checkpoints, id)
		}
	}
}
