package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PhaseStatus indicates the lifecycle state of a rollout phase.
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
	PhaseStatusSkipped    PhaseStatus = "skipped"
)

// PhaseSpec is the caller-provided sizing of one phase.
//
// TargetPercentage is cumulative fleet coverage in (0, 100]: a 10% canary
// followed by a 50% phase adds the next 40% of the fleet. TargetDeviceCount
// is the number of devices the phase adds when no percentage is given.
type PhaseSpec struct {
	Name               string
	TargetDeviceCount  int
	TargetPercentage   float64
	MinHealthyDuration *time.Duration
}

// Validate checks the sizing constraints of a phase.
func (s PhaseSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: phase name is required", ErrInvalidArgument)
	}
	if s.TargetDeviceCount < 0 {
		return fmt.Errorf("%w: phase %q: target device count must not be negative", ErrInvalidArgument, s.Name)
	}
	if math.IsNaN(s.TargetPercentage) || s.TargetPercentage < 0 || s.TargetPercentage > 100 {
		return fmt.Errorf("%w: phase %q: target percentage must be within [0, 100]", ErrInvalidArgument, s.Name)
	}
	if s.TargetDeviceCount == 0 && s.TargetPercentage == 0 {
		return fmt.Errorf("%w: phase %q: a target device count or percentage is required", ErrInvalidArgument, s.Name)
	}
	if s.MinHealthyDuration != nil && *s.MinHealthyDuration < 0 {
		return fmt.Errorf("%w: phase %q: min healthy duration must not be negative", ErrInvalidArgument, s.Name)
	}
	return nil
}

// RolloutPhase is one stage of a rollout. It is owned by its [Rollout] and
// never persisted on its own.
type RolloutPhase struct {
	ID                 PhaseID
	RolloutID          RolloutID
	PhaseNumber        int
	Name               string
	TargetDeviceCount  int
	TargetPercentage   float64
	MinHealthyDuration *time.Duration
	Status             PhaseStatus
	SuccessCount       int
	FailureCount       int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	Assignments        []DeviceAssignment
}

// NewRolloutPhase builds a pending phase numbered phaseNumber (1-based).
func NewRolloutPhase(rolloutID RolloutID, phaseNumber int, spec PhaseSpec) (RolloutPhase, error) {
	if err := spec.Validate(); err != nil {
		return RolloutPhase{}, err
	}
	if phaseNumber < 1 {
		return RolloutPhase{}, fmt.Errorf("%w: phase number must be at least 1, got %d", ErrInvalidArgument, phaseNumber)
	}
	return RolloutPhase{
		ID:                 NewPhaseID(),
		RolloutID:          rolloutID,
		PhaseNumber:        phaseNumber,
		Name:               spec.Name,
		TargetDeviceCount:  spec.TargetDeviceCount,
		TargetPercentage:   spec.TargetPercentage,
		MinHealthyDuration: spec.MinHealthyDuration,
		Status:             PhaseStatusPending,
	}, nil
}

func (p *RolloutPhase) transitionError(action string) error {
	return &TransitionError{Entity: "phase", ID: fmt.Sprintf("%s#%d", p.RolloutID, p.PhaseNumber), Current: string(p.Status), Action: action}
}

// Start moves a pending phase to in progress.
func (p *RolloutPhase) Start(at time.Time) error {
	if p.Status != PhaseStatusPending {
		return p.transitionError("start")
	}
	p.Status = PhaseStatusInProgress
	p.StartedAt = &at
	return nil
}

// Complete moves an in-progress phase to completed.
func (p *RolloutPhase) Complete(at time.Time) error {
	if p.Status != PhaseStatusInProgress {
		return p.transitionError("complete")
	}
	p.Status = PhaseStatusCompleted
	p.CompletedAt = &at
	return nil
}

// Fail moves an in-progress phase to failed.
func (p *RolloutPhase) Fail() error {
	if p.Status != PhaseStatusInProgress {
		return p.transitionError("fail")
	}
	p.Status = PhaseStatusFailed
	return nil
}

// Skip moves a non-terminal phase to skipped. Used when the phase's
// computed target is zero devices.
func (p *RolloutPhase) Skip() error {
	if p.IsTerminal() {
		return p.transitionError("skip")
	}
	p.Status = PhaseStatusSkipped
	return nil
}

// IsTerminal reports whether the phase has reached a final status.
func (p *RolloutPhase) IsTerminal() bool {
	switch p.Status {
	case PhaseStatusCompleted, PhaseStatusFailed, PhaseStatusSkipped:
		return true
	default:
		return false
	}
}

// RecordOutcome counts one distinct device outcome. It never changes the
// phase status.
func (p *RolloutPhase) RecordOutcome(success bool) {
	if success {
		p.SuccessCount++
		return
	}
	p.FailureCount++
}

func (p *RolloutPhase) reported() int { return p.SuccessCount + p.FailureCount }

// SuccessRate is SuccessCount over all recorded outcomes, or 0 when no
// outcome has been recorded.
func (p *RolloutPhase) SuccessRate() float64 {
	if p.reported() == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.reported())
}

// FailureRate is FailureCount over all recorded outcomes, or 0 when no
// outcome has been recorded.
func (p *RolloutPhase) FailureRate() float64 {
	if p.reported() == 0 {
		return 0
	}
	return float64(p.FailureCount) / float64(p.reported())
}

// HasMetTargetDeviceCount reports whether at least TargetDeviceCount
// devices have reported.
func (p *RolloutPhase) HasMetTargetDeviceCount() bool {
	return p.reported() >= p.TargetDeviceCount
}

// IsHealthy reports whether the failure rate is within failureThreshold.
// A phase with no outcomes is healthy.
func (p *RolloutPhase) IsHealthy(failureThreshold float64) bool {
	if p.reported() == 0 {
		return true
	}
	return p.FailureRate() <= failureThreshold
}

// AddDeviceAssignment appends a to the phase. Callers de-duplicate by
// device first.
func (p *RolloutPhase) AddDeviceAssignment(a DeviceAssignment) {
	p.Assignments = append(p.Assignments, a)
}

// Assignment returns the phase's assignment for deviceID.
func (p *RolloutPhase) Assignment(deviceID DeviceID) (*DeviceAssignment, bool) {
	for i := range p.Assignments {
		if p.Assignments[i].DeviceID == deviceID {
			return &p.Assignments[i], true
		}
	}
	return nil, false
}
