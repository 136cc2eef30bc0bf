package domain

import "github.com/google/uuid"

// TenantID identifies the isolation boundary a rollout belongs to.
type TenantID string

// BundleID identifies a deployable bundle in the catalog.
type BundleID string

// RolloutID identifies a rollout.
type RolloutID string

// PhaseID identifies a phase within a rollout.
type PhaseID string

// DeviceID identifies an edge device.
type DeviceID string

// AssignmentID identifies a device assignment.
type AssignmentID string

func NewRolloutID() RolloutID { return RolloutID(uuid.NewString()) }
func NewPhaseID() PhaseID     { return PhaseID(uuid.NewString()) }

// assignmentNamespace scopes name-based assignment IDs.
var assignmentNamespace = uuid.MustParse("6f1c2b7e-3d0a-4f55-9a53-2f4c8e1d9b10")

// AssignmentIDFor derives the assignment ID of device in phase. The ID is
// a pure function of its inputs so that workflow replays produce the same
// assignments.
func AssignmentIDFor(phaseID PhaseID, deviceID DeviceID) AssignmentID {
	return AssignmentID(uuid.NewSHA1(assignmentNamespace, []byte(string(phaseID)+"/"+string(deviceID))).String())
}
