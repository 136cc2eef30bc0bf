package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ReconcileDecision summarizes what one reconcile pass did to a rollout.
type ReconcileDecision string

const (
	DecisionStarted    ReconcileDecision = "started"
	DecisionWaiting    ReconcileDecision = "waiting"
	DecisionHolding    ReconcileDecision = "holding"
	DecisionAdvanced   ReconcileDecision = "advanced"
	DecisionCompleted  ReconcileDecision = "completed"
	DecisionRolledBack ReconcileDecision = "rolled_back"
	DecisionFailed     ReconcileDecision = "failed"
	DecisionPaused     ReconcileDecision = "paused"
	DecisionInactive   ReconcileDecision = "inactive"
	// DecisionConflict means the rollout changed underneath the pass and
	// nothing was written. The caller may rerun the pass.
	DecisionConflict ReconcileDecision = "conflict"
)

// PhaseCheckpoint records when a phase was first seen fully targeted and
// healthy. It is kept by the caller between passes and is best-effort:
// losing it restarts the min-healthy-duration countdown.
type PhaseCheckpoint struct {
	PhaseID PhaseID
	Since   time.Time
}

// ReconcileInput is the input of one reconcile pass. Now is supplied by
// the caller so the pass itself never reads the clock.
type ReconcileInput struct {
	RolloutID  RolloutID
	Now        time.Time
	Checkpoint *PhaseCheckpoint
}

// ReconcileResult is the output of one reconcile pass.
type ReconcileResult struct {
	RolloutID          RolloutID
	Decision           ReconcileDecision
	Status             RolloutStatus
	CurrentPhaseNumber int
	OutcomesRecorded   int
	Dispatched         int
	Checkpoint         *PhaseCheckpoint
}

// ResolveTargetsInput is the input to the resolve-targets activity.
type ResolveTargetsInput struct {
	TenantID TenantID
	Selector TargetSelector
}

// DispatchInput is the input to the dispatch activity: one version sent
// to a batch of devices.
type DispatchInput struct {
	RolloutID RolloutID
	TenantID  TenantID
	BundleID  BundleID
	Version   BundleVersion
	Devices   []DeviceID
}

// DispatchOutput is the output of the dispatch activity.
type DispatchOutput struct {
	Dispatched int
}

// SaveOutput is the output of the save-rollout activity. A stale write is
// reported as Conflict rather than as an error so that it survives
// serialization through durable engines.
type SaveOutput struct {
	Version  int64
	Conflict bool
}

// DispatchDevices sends in.Version to every device in in.Devices. It
// keeps going past individual failures and reports them together.
func DispatchDevices(ctx context.Context, d Dispatcher, in DispatchInput) (DispatchOutput, error) {
	var out DispatchOutput
	var errs []error
	for _, id := range in.Devices {
		err := d.Dispatch(ctx, DispatchRequest{
			RolloutID: in.RolloutID,
			TenantID:  in.TenantID,
			DeviceID:  id,
			BundleID:  in.BundleID,
			Version:   in.Version,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", id, err))
			continue
		}
		out.Dispatched++
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %w", ErrDispatch, errors.Join(errs...))
	}
	return out, nil
}

// ReconcileWorkflow drives one rollout one step closer to done: it starts
// pending rollouts, ingests device outcomes, and completes, advances,
// fails or rolls back the current phase. All I/O happens in activities.
type ReconcileWorkflow struct {
	Rollouts   RolloutRepository
	Resolver   TargetResolver
	Dispatcher Dispatcher
	Notifier   NotificationSink // optional

	// AssignmentTimeout converts pending assignments older than this into
	// failures. Zero disables the timeout.
	AssignmentTimeout time.Duration
}

func (w *ReconcileWorkflow) Name() string { return "reconcile-rollout" }

func (w *ReconcileWorkflow) LoadRollout() Activity[RolloutID, Rollout] {
	return NewActivity("load-rollout", func(ctx context.Context, id RolloutID) (Rollout, error) {
		return w.Rollouts.Get(ctx, id)
	})
}

func (w *ReconcileWorkflow) ResolveTargets() Activity[ResolveTargetsInput, []DeviceID] {
	return NewActivity("resolve-targets", func(ctx context.Context, in ResolveTargetsInput) ([]DeviceID, error) {
		ids, err := w.Resolver.ResolveTargets(ctx, in.Selector, in.TenantID)
		if err != nil && !errors.Is(err, ErrTargetResolution) {
			return nil, fmt.Errorf("%w: %w", ErrTargetResolution, err)
		}
		return ids, err
	})
}

func (w *ReconcileWorkflow) PollOutcomes() Activity[RolloutID, []DeviceOutcome] {
	return NewActivity("poll-outcomes", func(ctx context.Context, id RolloutID) ([]DeviceOutcome, error) {
		return w.Dispatcher.PollOutcomes(ctx, id)
	})
}

func (w *ReconcileWorkflow) Dispatch() Activity[DispatchInput, DispatchOutput] {
	return NewActivity("dispatch", func(ctx context.Context, in DispatchInput) (DispatchOutput, error) {
		return DispatchDevices(ctx, w.Dispatcher, in)
	})
}

func (w *ReconcileWorkflow) SaveRollout() Activity[Rollout, SaveOutput] {
	return NewActivity("save-rollout", func(ctx context.Context, r Rollout) (SaveOutput, error) {
		if err := w.Rollouts.Update(ctx, &r); err != nil {
			if errors.Is(err, ErrConflict) {
				return SaveOutput{Conflict: true}, nil
			}
			return SaveOutput{}, err
		}
		return SaveOutput{Version: r.Version}, nil
	})
}

func (w *ReconcileWorkflow) Notify() Activity[[]Notification, int] {
	return NewActivity("notify", func(ctx context.Context, ns []Notification) (int, error) {
		if w.Notifier == nil {
			return 0, nil
		}
		sent := 0
		var errs []error
		for _, n := range ns {
			if err := w.Notifier.Notify(ctx, n); err != nil {
				errs = append(errs, err)
				continue
			}
			sent++
		}
		return sent, errors.Join(errs...)
	})
}

// Run executes one reconcile pass for in.RolloutID.
func (w *ReconcileWorkflow) Run(runner DurableRunner, in ReconcileInput) (ReconcileResult, error) {
	r, err := RunActivity(runner, w.LoadRollout(), in.RolloutID)
	if err != nil {
		return ReconcileResult{}, err
	}
	pass := &reconcilePass{wf: w, runner: runner, in: in, rollout: &r}

	switch r.Status {
	case RolloutStatusPending:
		return pass.begin()
	case RolloutStatusInProgress, RolloutStatusPaused:
		return pass.progress()
	default:
		return pass.result(DecisionInactive), nil
	}
}

// reconcilePass holds the state of one [ReconcileWorkflow.Run] call.
// Nothing is persisted until commit, so an error at any step leaves the
// stored rollout untouched.
type reconcilePass struct {
	wf         *ReconcileWorkflow
	runner     DurableRunner
	in         ReconcileInput
	rollout    *Rollout
	recorded   int
	dispatched int
	checkpoint *PhaseCheckpoint
}

func (p *reconcilePass) now() time.Time { return p.in.Now }

func (p *reconcilePass) begin() (ReconcileResult, error) {
	r := p.rollout
	if err := r.Start(p.now()); err != nil {
		return ReconcileResult{}, err
	}
	if err := p.enterCurrentPhase(); err != nil {
		return ReconcileResult{}, err
	}
	if r.Status == RolloutStatusCompleted {
		return p.commit(DecisionCompleted)
	}
	return p.commit(DecisionStarted)
}

func (p *reconcilePass) progress() (ReconcileResult, error) {
	r := p.rollout
	if err := p.ingestOutcomes(); err != nil {
		return ReconcileResult{}, err
	}
	if r.Status == RolloutStatusPaused {
		return p.commitIfChanged(DecisionPaused)
	}

	phase := r.CurrentPhase()
	if phase == nil {
		return ReconcileResult{}, fmt.Errorf("rollout %s: no current phase at offset %d", r.ID, r.CurrentPhaseNumber)
	}
	if phase.Status == PhaseStatusPending {
		if err := p.enterCurrentPhase(); err != nil {
			return ReconcileResult{}, err
		}
		return p.commit(DecisionAdvanced)
	}

	if !phase.IsHealthy(r.FailureThreshold) {
		return p.abort()
	}
	if !phase.HasMetTargetDeviceCount() {
		return p.commitIfChanged(DecisionWaiting)
	}
	if d := phase.MinHealthyDuration; d != nil && *d > 0 {
		since := p.now()
		if cp := p.in.Checkpoint; cp != nil && cp.PhaseID == phase.ID {
			since = cp.Since
		}
		p.checkpoint = &PhaseCheckpoint{PhaseID: phase.ID, Since: since}
		if p.now().Sub(since) < *d {
			return p.commitIfChanged(DecisionHolding)
		}
		p.checkpoint = nil
	}

	if err := r.CompleteCurrentPhase(p.now()); err != nil {
		return ReconcileResult{}, err
	}
	if r.Status == RolloutStatusCompleted {
		return p.commit(DecisionCompleted)
	}
	if err := r.AdvancePhase(); err != nil {
		return ReconcileResult{}, err
	}
	if err := p.enterCurrentPhase(); err != nil {
		return ReconcileResult{}, err
	}
	if r.Status == RolloutStatusCompleted {
		return p.commit(DecisionCompleted)
	}
	return p.commit(DecisionAdvanced)
}

// ingestOutcomes applies reports from the dispatcher's feed and the
// assignment timeout to the current phase.
func (p *reconcilePass) ingestOutcomes() error {
	r := p.rollout
	outcomes, err := RunActivity(p.runner, p.wf.PollOutcomes(), r.ID)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		if cmp, err := o.Version.Compare(r.TargetVersion); err != nil || cmp != 0 {
			continue
		}
		ok, err := r.RecordDeviceOutcome(o.DeviceID, o.Success, o.ReportedAt)
		if err != nil {
			return err
		}
		if ok {
			p.recorded++
		}
	}
	if p.wf.AssignmentTimeout > 0 {
		p.recorded += r.ExpirePendingAssignments(p.now().Add(-p.wf.AssignmentTimeout), p.now())
	}
	return nil
}

// enterCurrentPhase sizes the pending current phase against the resolved
// fleet, skips it (and any following phases) while its size is zero, and
// otherwise assigns and dispatches the phase's new devices and starts it.
func (p *reconcilePass) enterCurrentPhase() error {
	r := p.rollout
	targets, err := RunActivity(p.runner, p.wf.ResolveTargets(), ResolveTargetsInput{
		TenantID: r.TenantID,
		Selector: r.Target,
	})
	if err != nil {
		return err
	}

	assigned := make(map[DeviceID]bool)
	for _, id := range r.AssignedDevices() {
		assigned[id] = true
	}
	var available []DeviceID
	for _, id := range targets {
		if !assigned[id] {
			available = append(available, id)
		}
	}

	for {
		phase := r.CurrentPhase()
		if phase == nil || phase.Status != PhaseStatusPending {
			return nil
		}
		n := phaseTargetSize(phase, len(targets), len(assigned), len(available))
		if n == 0 {
			if err := r.SkipCurrentPhase(p.now()); err != nil {
				return err
			}
			if r.IsTerminal() {
				return nil
			}
			if err := r.AdvancePhase(); err != nil {
				return err
			}
			continue
		}

		phase.TargetDeviceCount = n
		added := r.AssignToCurrentPhase(available[:n], p.now())
		out, err := RunActivity(p.runner, p.wf.Dispatch(), DispatchInput{
			RolloutID: r.ID,
			TenantID:  r.TenantID,
			BundleID:  r.BundleID,
			Version:   r.TargetVersion,
			Devices:   added,
		})
		p.dispatched += out.Dispatched
		if err != nil {
			return err
		}
		return r.StartCurrentPhase(p.now())
	}
}

// phaseTargetSize returns how many not-yet-assigned devices the phase
// adds. Percentages are cumulative coverage of the resolved fleet,
// rounded down.
func phaseTargetSize(phase *RolloutPhase, fleetSize, alreadyAssigned, available int) int {
	n := phase.TargetDeviceCount
	if phase.TargetPercentage > 0 {
		n = int(math.Floor(phase.TargetPercentage*float64(fleetSize)/100)) - alreadyAssigned
	}
	return max(0, min(n, available))
}

// abort fails the unhealthy current phase and then rolls the rollout back
// when a previous version exists, or fails it otherwise.
func (p *reconcilePass) abort() (ReconcileResult, error) {
	r := p.rollout
	if err := r.FailCurrentPhase(); err != nil {
		return ReconcileResult{}, err
	}
	if r.PreviousVersion == "" {
		if err := r.Fail(p.now()); err != nil {
			return ReconcileResult{}, err
		}
		return p.commit(DecisionFailed)
	}

	out, err := RunActivity(p.runner, p.wf.Dispatch(), DispatchInput{
		RolloutID: r.ID,
		TenantID:  r.TenantID,
		BundleID:  r.BundleID,
		Version:   r.PreviousVersion,
		Devices:   r.AssignedDevices(),
	})
	p.dispatched += out.Dispatched
	if err != nil {
		return ReconcileResult{}, err
	}
	if err := r.Rollback(p.now()); err != nil {
		return ReconcileResult{}, err
	}
	return p.commit(DecisionRolledBack)
}

func (p *reconcilePass) commitIfChanged(decision ReconcileDecision) (ReconcileResult, error) {
	if p.recorded == 0 {
		return p.result(decision), nil
	}
	return p.commit(decision)
}

func (p *reconcilePass) commit(decision ReconcileDecision) (ReconcileResult, error) {
	saved, err := RunActivity(p.runner, p.wf.SaveRollout(), *p.rollout)
	if err != nil {
		return ReconcileResult{}, err
	}
	if saved.Conflict {
		p.checkpoint = p.in.Checkpoint
		return p.result(DecisionConflict), nil
	}
	p.rollout.Version = saved.Version

	if events := p.rollout.PullEvents(); len(events) > 0 {
		// Best-effort: a failed notification never fails the pass.
		_, _ = RunActivity(p.runner, p.wf.Notify(), Notifications(events, p.now()))
	}
	return p.result(decision), nil
}

func (p *reconcilePass) result(decision ReconcileDecision) ReconcileResult {
	return ReconcileResult{
		RolloutID:          p.rollout.ID,
		Decision:           decision,
		Status:             p.rollout.Status,
		CurrentPhaseNumber: p.rollout.CurrentPhaseNumber,
		OutcomesRecorded:   p.recorded,
		Dispatched:         p.dispatched,
		Checkpoint:         p.checkpoint,
	}
}
