package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RolloutStatus indicates the lifecycle state of a rollout.
type RolloutStatus string

const (
	RolloutStatusPending    RolloutStatus = "pending"
	RolloutStatusInProgress RolloutStatus = "in_progress"
	RolloutStatusPaused     RolloutStatus = "paused"
	RolloutStatusCompleted  RolloutStatus = "completed"
	RolloutStatusFailed     RolloutStatus = "failed"
	RolloutStatusRolledBack RolloutStatus = "rolled_back"
)

// ActiveRolloutStatuses are the statuses that count toward the one active
// rollout per tenant and bundle rule.
var ActiveRolloutStatuses = []RolloutStatus{
	RolloutStatusPending,
	RolloutStatusInProgress,
	RolloutStatusPaused,
}

// RolloutParams are the attributes a rollout is created with.
type RolloutParams struct {
	ID               RolloutID // generated when empty
	TenantID         TenantID
	BundleID         BundleID
	TargetVersion    BundleVersion
	PreviousVersion  BundleVersion
	Name             string
	Description      string
	Target           TargetSelector
	FailureThreshold float64
	CreatedBy        string
	CreatedAt        time.Time
}

// Rollout moves a device fleet from one bundle version to another through
// an ordered list of phases.
//
// CurrentPhaseNumber is a 0-based offset into Phases while
// [RolloutPhase.PhaseNumber] is 1-based; use [Rollout.CurrentPhase] rather
// than indexing directly.
type Rollout struct {
	ID                 RolloutID
	TenantID           TenantID
	BundleID           BundleID
	TargetVersion      BundleVersion
	PreviousVersion    BundleVersion
	Name               string
	Description        string
	Target             TargetSelector
	Status             RolloutStatus
	CurrentPhaseNumber int
	Phases             []RolloutPhase
	FailureThreshold   float64
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedBy          string

	// Version is the optimistic concurrency revision maintained by the
	// repository.
	Version int64

	events []Event
}

// NewRollout validates p and returns a pending rollout with no phases.
func NewRollout(p RolloutParams) (Rollout, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Rollout{}, fmt.Errorf("%w: rollout name is required", ErrInvalidArgument)
	}
	if p.TenantID == "" {
		return Rollout{}, fmt.Errorf("%w: tenant ID is required", ErrInvalidArgument)
	}
	if p.BundleID == "" {
		return Rollout{}, fmt.Errorf("%w: bundle ID is required", ErrInvalidArgument)
	}
	if math.IsNaN(p.FailureThreshold) || p.FailureThreshold < 0 || p.FailureThreshold > 1 {
		return Rollout{}, fmt.Errorf("%w: failure threshold must be within [0, 1], got %v", ErrInvalidArgument, p.FailureThreshold)
	}
	if _, err := ParseBundleVersion(string(p.TargetVersion)); err != nil {
		return Rollout{}, fmt.Errorf("target version: %w", err)
	}
	if p.PreviousVersion != "" {
		cmp, err := p.TargetVersion.Compare(p.PreviousVersion)
		if err != nil {
			return Rollout{}, fmt.Errorf("previous version: %w", err)
		}
		if cmp == 0 {
			return Rollout{}, fmt.Errorf("%w: target version %s equals previous version", ErrInvalidArgument, p.TargetVersion)
		}
	}
	if err := p.Target.Validate(); err != nil {
		return Rollout{}, err
	}

	id := p.ID
	if id == "" {
		id = NewRolloutID()
	}
	return Rollout{
		ID:               id,
		TenantID:         p.TenantID,
		BundleID:         p.BundleID,
		TargetVersion:    p.TargetVersion,
		PreviousVersion:  p.PreviousVersion,
		Name:             p.Name,
		Description:      p.Description,
		Target:           p.Target,
		Status:           RolloutStatusPending,
		FailureThreshold: p.FailureThreshold,
		CreatedAt:        p.CreatedAt,
		CreatedBy:        p.CreatedBy,
	}, nil
}

func (r *Rollout) transitionError(action string) error {
	return &TransitionError{Entity: "rollout", ID: string(r.ID), Current: string(r.Status), Action: action}
}

func (r *Rollout) raise(t EventType, phaseNumber int) {
	r.events = append(r.events, Event{
		Type:        t,
		RolloutID:   r.ID,
		TenantID:    r.TenantID,
		BundleID:    r.BundleID,
		Version:     r.TargetVersion,
		PhaseNumber: phaseNumber,
	})
}

// PullEvents returns and clears the events raised since the last call.
func (r *Rollout) PullEvents() []Event {
	events := r.events
	r.events = nil
	return events
}

// AddPhase appends a phase. Its PhaseNumber must be the current phase
// count plus one, and the rollout must not have started.
func (r *Rollout) AddPhase(phase RolloutPhase) error {
	if r.Status != RolloutStatusPending {
		return fmt.Errorf("%w: phases cannot be added after the rollout has started", ErrInvalidArgument)
	}
	if want := len(r.Phases) + 1; phase.PhaseNumber != want {
		return fmt.Errorf("%w: phase number %d out of sequence, want %d", ErrInvalidArgument, phase.PhaseNumber, want)
	}
	phase.RolloutID = r.ID
	r.Phases = append(r.Phases, phase)
	return nil
}

// IsTerminal reports whether the rollout has reached a final status.
func (r *Rollout) IsTerminal() bool {
	switch r.Status {
	case RolloutStatusCompleted, RolloutStatusFailed, RolloutStatusRolledBack:
		return true
	default:
		return false
	}
}

// IsActive reports whether the rollout counts as active for its tenant and
// bundle.
func (r *Rollout) IsActive() bool { return !r.IsTerminal() }

// Start moves a pending rollout to in progress. It does not start the
// first phase.
func (r *Rollout) Start(at time.Time) error {
	if r.Status != RolloutStatusPending {
		return r.transitionError("start")
	}
	if len(r.Phases) == 0 {
		return fmt.Errorf("%w: rollout %s has no phases", ErrInvalidArgument, r.ID)
	}
	r.Status = RolloutStatusInProgress
	r.StartedAt = &at
	r.CurrentPhaseNumber = 0
	r.raise(EventRolloutStarted, 0)
	return nil
}

// CurrentPhase returns the phase at CurrentPhaseNumber, or nil before the
// rollout has started.
func (r *Rollout) CurrentPhase() *RolloutPhase {
	if r.Status == RolloutStatusPending {
		return nil
	}
	if r.CurrentPhaseNumber < 0 || r.CurrentPhaseNumber >= len(r.Phases) {
		return nil
	}
	return &r.Phases[r.CurrentPhaseNumber]
}

func (r *Rollout) isLastPhase() bool { return r.CurrentPhaseNumber == len(r.Phases)-1 }

func (r *Rollout) currentPhaseForUpdate(action string) (*RolloutPhase, error) {
	if r.Status != RolloutStatusInProgress {
		return nil, r.transitionError(action)
	}
	phase := r.CurrentPhase()
	if phase == nil {
		return nil, r.transitionError(action)
	}
	return phase, nil
}

// StartCurrentPhase starts the current phase.
func (r *Rollout) StartCurrentPhase(at time.Time) error {
	phase, err := r.currentPhaseForUpdate("start current phase")
	if err != nil {
		return err
	}
	if err := phase.Start(at); err != nil {
		return err
	}
	r.raise(EventPhaseStarted, phase.PhaseNumber)
	return nil
}

// CompleteCurrentPhase completes the current phase. Completing the final
// phase also completes the rollout.
func (r *Rollout) CompleteCurrentPhase(at time.Time) error {
	phase, err := r.currentPhaseForUpdate("complete current phase")
	if err != nil {
		return err
	}
	if err := phase.Complete(at); err != nil {
		return err
	}
	r.raise(EventPhaseCompleted, phase.PhaseNumber)
	r.completeIfFinalPhase(at)
	return nil
}

// SkipCurrentPhase skips the current phase. Skipping the final phase
// completes the rollout.
func (r *Rollout) SkipCurrentPhase(at time.Time) error {
	phase, err := r.currentPhaseForUpdate("skip current phase")
	if err != nil {
		return err
	}
	if err := phase.Skip(); err != nil {
		return err
	}
	r.raise(EventPhaseSkipped, phase.PhaseNumber)
	r.completeIfFinalPhase(at)
	return nil
}

// completeIfFinalPhase is the only place where a phase transition changes
// the rollout's own status.
func (r *Rollout) completeIfFinalPhase(at time.Time) {
	if !r.isLastPhase() {
		return
	}
	r.Status = RolloutStatusCompleted
	r.CompletedAt = &at
	r.raise(EventRolloutCompleted, r.Phases[r.CurrentPhaseNumber].PhaseNumber)
}

// AdvancePhase moves CurrentPhaseNumber to the next phase without
// starting it.
func (r *Rollout) AdvancePhase() error {
	if r.Status != RolloutStatusInProgress {
		return r.transitionError("advance phase")
	}
	if r.isLastPhase() {
		return &TransitionError{Entity: "rollout", ID: string(r.ID), Current: fmt.Sprintf("phase %d of %d", r.CurrentPhaseNumber+1, len(r.Phases)), Action: "advance phase"}
	}
	r.CurrentPhaseNumber++
	r.raise(EventPhaseAdvanced, r.Phases[r.CurrentPhaseNumber].PhaseNumber)
	return nil
}

// Pause stops dispatch and phase advancement. Outcomes are still recorded.
func (r *Rollout) Pause() error {
	if r.Status != RolloutStatusInProgress {
		return r.transitionError("pause")
	}
	r.Status = RolloutStatusPaused
	r.raise(EventRolloutPaused, r.CurrentPhaseNumber+1)
	return nil
}

// Resume continues a paused rollout.
func (r *Rollout) Resume(_ time.Time) error {
	if r.Status != RolloutStatusPaused {
		return r.transitionError("resume")
	}
	r.Status = RolloutStatusInProgress
	r.raise(EventRolloutResumed, r.CurrentPhaseNumber+1)
	return nil
}

// Rollback terminates a non-terminal rollout in favour of PreviousVersion.
func (r *Rollout) Rollback(at time.Time) error {
	if r.PreviousVersion == "" {
		return fmt.Errorf("%w: rollout %s has no previous version to roll back to", ErrInvalidArgument, r.ID)
	}
	if r.IsTerminal() {
		return r.transitionError("roll back")
	}
	r.Status = RolloutStatusRolledBack
	r.CompletedAt = &at
	r.raise(EventRolloutRolledBack, r.phaseNumberForEvent())
	return nil
}

// Fail terminates a non-terminal rollout without rolling back.
func (r *Rollout) Fail(at time.Time) error {
	if r.IsTerminal() {
		return r.transitionError("fail")
	}
	r.Status = RolloutStatusFailed
	r.CompletedAt = &at
	r.raise(EventRolloutFailed, r.phaseNumberForEvent())
	return nil
}

// FailCurrentPhase fails the in-progress current phase.
func (r *Rollout) FailCurrentPhase() error {
	phase := r.CurrentPhase()
	if phase == nil {
		return r.transitionError("fail current phase")
	}
	if err := phase.Fail(); err != nil {
		return err
	}
	r.raise(EventPhaseFailed, phase.PhaseNumber)
	return nil
}

func (r *Rollout) phaseNumberForEvent() int {
	if phase := r.CurrentPhase(); phase != nil {
		return phase.PhaseNumber
	}
	return 0
}

// AssignedDevices returns every device assigned by any phase, in
// assignment order.
func (r *Rollout) AssignedDevices() []DeviceID {
	var out []DeviceID
	for i := range r.Phases {
		for _, a := range r.Phases[i].Assignments {
			out = append(out, a.DeviceID)
		}
	}
	return out
}

// AssignToCurrentPhase creates pending assignments on the current phase for
// devices not yet assigned anywhere in the rollout and returns them.
func (r *Rollout) AssignToCurrentPhase(devices []DeviceID, at time.Time) []DeviceID {
	phase := r.CurrentPhase()
	if phase == nil {
		return nil
	}
	seen := make(map[DeviceID]bool)
	for _, id := range r.AssignedDevices() {
		seen[id] = true
	}
	var added []DeviceID
	for _, id := range devices {
		if seen[id] {
			continue
		}
		seen[id] = true
		phase.AddDeviceAssignment(NewDeviceAssignment(r.ID, phase.ID, id, at))
		added = append(added, id)
	}
	return added
}

// RecordDeviceOutcome applies one device report to the current phase and
// reports whether it changed state. Reports are discarded when the
// rollout or its current phase has already decided, when the device
// belongs to an earlier phase, or when the device already reported.
// Unknown devices are assigned lazily.
func (r *Rollout) RecordDeviceOutcome(deviceID DeviceID, success bool, at time.Time) (bool, error) {
	if r.Status != RolloutStatusInProgress && r.Status != RolloutStatusPaused {
		return false, nil
	}
	phase := r.CurrentPhase()
	if phase == nil || phase.Status != PhaseStatusInProgress {
		return false, nil
	}
	for i := range r.Phases {
		if i == r.CurrentPhaseNumber {
			continue
		}
		if _, ok := r.Phases[i].Assignment(deviceID); ok {
			return false, nil
		}
	}

	a, ok := phase.Assignment(deviceID)
	if !ok {
		phase.AddDeviceAssignment(NewDeviceAssignment(r.ID, phase.ID, deviceID, at))
		a = &phase.Assignments[len(phase.Assignments)-1]
	}
	if a.IsTerminal() {
		return false, nil
	}
	if err := a.Resolve(success, at); err != nil {
		return false, err
	}
	phase.RecordOutcome(success)
	return true, nil
}

// ExpirePendingAssignments converts pending assignments on the in-progress
// current phase that were assigned at or before cutoff into failures. It
// returns the number of assignments expired.
func (r *Rollout) ExpirePendingAssignments(cutoff, at time.Time) int {
	if r.Status != RolloutStatusInProgress {
		return 0
	}
	phase := r.CurrentPhase()
	if phase == nil || phase.Status != PhaseStatusInProgress {
		return 0
	}
	expired := 0
	for i := range phase.Assignments {
		a := &phase.Assignments[i]
		if a.IsTerminal() || a.AssignedAt.After(cutoff) {
			continue
		}
		if err := a.Resolve(false, at); err != nil {
			continue
		}
		phase.RecordOutcome(false)
		expired++
	}
	return expired
}

// Progress summarizes the current phase's device assignments.
type Progress struct {
	Total       int
	Succeeded   int
	Failed      int
	Pending     int
	SuccessRate float64
}

// OverallProgress reports on the current phase only, not on the whole
// rollout history. SuccessRate is Succeeded over Total.
func (r *Rollout) OverallProgress() Progress {
	var p Progress
	phase := r.CurrentPhase()
	if phase == nil {
		return p
	}
	for _, a := range phase.Assignments {
		p.Total++
		switch a.Outcome {
		case AssignmentSucceeded:
			p.Succeeded++
		case AssignmentFailed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.SuccessRate = float64(p.Succeeded) / float64(p.Total)
	}
	return p
}
