package domain

import "time"

// AssignmentOutcome is the terminal result a device reported for a phase.
type AssignmentOutcome string

const (
	AssignmentPending   AssignmentOutcome = "pending"
	AssignmentSucceeded AssignmentOutcome = "success"
	AssignmentFailed    AssignmentOutcome = "failure"
)

// DeviceAssignment records that a device was targeted by a phase. An
// assignment moves from pending to a terminal outcome exactly once and is
// never deleted.
type DeviceAssignment struct {
	ID         AssignmentID
	RolloutID  RolloutID
	PhaseID    PhaseID
	DeviceID   DeviceID
	AssignedAt time.Time
	Outcome    AssignmentOutcome
	OutcomeAt  *time.Time
}

// NewDeviceAssignment returns a pending assignment of device to phase.
func NewDeviceAssignment(rolloutID RolloutID, phaseID PhaseID, deviceID DeviceID, at time.Time) DeviceAssignment {
	return DeviceAssignment{
		ID:         AssignmentIDFor(phaseID, deviceID),
		RolloutID:  rolloutID,
		PhaseID:    phaseID,
		DeviceID:   deviceID,
		AssignedAt: at,
		Outcome:    AssignmentPending,
	}
}

// IsTerminal reports whether the device has already reported.
func (a *DeviceAssignment) IsTerminal() bool {
	return a.Outcome == AssignmentSucceeded || a.Outcome == AssignmentFailed
}

// Resolve records the device's outcome. It fails if an outcome was
// already recorded.
func (a *DeviceAssignment) Resolve(success bool, at time.Time) error {
	if a.IsTerminal() {
		return &TransitionError{Entity: "assignment", ID: string(a.ID), Current: string(a.Outcome), Action: "resolve"}
	}
	a.Outcome = AssignmentFailed
	if success {
		a.Outcome = AssignmentSucceeded
	}
	a.OutcomeAt = &at
	return nil
}
