package domain

import (
	"context"
	"time"
)

// DeviceRepository persists and retrieves the device registry view the
// target resolver works from.
type DeviceRepository interface {
	Create(ctx context.Context, device Device) error
	Get(ctx context.Context, id DeviceID) (Device, error)
	ListByTenant(ctx context.Context, tenant TenantID) ([]Device, error)
	Delete(ctx context.Context, id DeviceID) error
}

// RolloutRepository persists a rollout together with its phases and
// their device assignments as one consistency unit.
type RolloutRepository interface {
	// Create stores a new rollout. It returns [ErrAlreadyExists] when the
	// ID is taken or the tenant/bundle pair already has an active rollout.
	Create(ctx context.Context, r Rollout) error
	Get(ctx context.Context, id RolloutID) (Rollout, error)
	// Update writes r if its Version matches the stored revision and
	// increments r.Version. A stale Version yields [ErrConflict].
	Update(ctx context.Context, r *Rollout) error
	ListByStatus(ctx context.Context, statuses ...RolloutStatus) ([]Rollout, error)
	HasActiveRollout(ctx context.Context, tenant TenantID, bundle BundleID) (bool, error)
}

// TargetResolver turns a rollout's selector into the concrete devices it
// targets right now. Results may differ between calls for dynamic
// selectors.
type TargetResolver interface {
	ResolveTargets(ctx context.Context, sel TargetSelector, tenant TenantID) ([]DeviceID, error)
}

// DispatchRequest instructs one device to adopt a bundle version.
type DispatchRequest struct {
	RolloutID RolloutID
	TenantID  TenantID
	DeviceID  DeviceID
	BundleID  BundleID
	Version   BundleVersion
}

// DeviceOutcome is a device's report on adopting a version.
type DeviceOutcome struct {
	DeviceID   DeviceID
	Version    BundleVersion
	Success    bool
	ReportedAt time.Time
}

// Dispatcher is the port through which desired state reaches edge
// devices and through which their outcomes come back. Dispatch is
// fire-and-forget and idempotent per (device, bundle, version).
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
	PollOutcomes(ctx context.Context, rolloutID RolloutID) ([]DeviceOutcome, error)
}

// NotificationSink receives rollout lifecycle notifications. Delivery is
// best-effort; failures never affect the rollout.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}
