package domain

import "time"

// EventType names a rollout lifecycle transition worth telling other
// subsystems about.
type EventType string

const (
	EventRolloutStarted    EventType = "rollout.started"
	EventRolloutPaused     EventType = "rollout.paused"
	EventRolloutResumed    EventType = "rollout.resumed"
	EventRolloutCompleted  EventType = "rollout.completed"
	EventRolloutFailed     EventType = "rollout.failed"
	EventRolloutRolledBack EventType = "rollout.rolled_back"
	EventPhaseStarted      EventType = "phase.started"
	EventPhaseCompleted    EventType = "phase.completed"
	EventPhaseSkipped      EventType = "phase.skipped"
	EventPhaseFailed       EventType = "phase.failed"
	EventPhaseAdvanced     EventType = "phase.advanced"
)

// Event is raised by [Rollout] transitions and drained with
// [Rollout.PullEvents]. Events carry no timestamp; whoever publishes them
// stamps the time in a [Notification].
type Event struct {
	Type        EventType
	RolloutID   RolloutID
	TenantID    TenantID
	BundleID    BundleID
	Version     BundleVersion
	PhaseNumber int
}

// Notification is an [Event] as delivered to a [NotificationSink].
type Notification struct {
	Event
	At time.Time
}

// Notifications stamps each event with at.
func Notifications(events []Event, at time.Time) []Notification {
	out := make([]Notification, len(events))
	for i, e := range events {
		out[i] = Notification{Event: e, At: at}
	}
	return out
}
