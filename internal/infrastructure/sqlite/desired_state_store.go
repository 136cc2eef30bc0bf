package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// DesiredState is the bundle version a device has been told to run.
type DesiredState struct {
	DeviceID  domain.DeviceID
	BundleID  domain.BundleID
	TenantID  domain.TenantID
	RolloutID domain.RolloutID
	Version   domain.BundleVersion
	UpdatedAt time.Time
}

// DesiredStateStore implements [domain.Dispatcher] by writing per-device
// desired state to SQLite, where edge agents pick it up, and by reading
// back the outcomes they report. This is the in-process transport used
// until a device-facing delivery channel exists.
type DesiredStateStore struct {
	DB  *sql.DB
	Now func() time.Time
}

// Dispatch records req.Version as the desired state of req.DeviceID for
// req.BundleID. Repeating a dispatch only refreshes its timestamp.
func (s *DesiredStateStore) Dispatch(ctx context.Context, req domain.DispatchRequest) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO device_desired_states (device_id, bundle_id, tenant_id, rollout_id, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (device_id, bundle_id) DO UPDATE SET
		     tenant_id = excluded.tenant_id,
		     rollout_id = excluded.rollout_id,
		     version = excluded.version,
		     updated_at = excluded.updated_at`,
		string(req.DeviceID), string(req.BundleID), string(req.TenantID), string(req.RolloutID),
		string(req.Version), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("%w: write desired state for device %q: %v", domain.ErrDispatch, req.DeviceID, err)
	}
	return nil
}

// PollOutcomes returns every outcome reported for rolloutID, oldest
// first. Outcomes are never consumed; callers de-duplicate.
func (s *DesiredStateStore) PollOutcomes(ctx context.Context, rolloutID domain.RolloutID) ([]domain.DeviceOutcome, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT device_id, version, success, reported_at
		 FROM device_outcomes WHERE rollout_id = ? ORDER BY reported_at, device_id`,
		string(rolloutID),
	)
	if err != nil {
		return nil, fmt.Errorf("poll outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.DeviceOutcome
	for rows.Next() {
		var (
			o                   domain.DeviceOutcome
			device, version, at string
		)
		if err := rows.Scan(&device, &version, &o.Success, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.DeviceID = domain.DeviceID(device)
		o.Version = domain.BundleVersion(version)
		if o.ReportedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ReportOutcome stores a device's report for a rollout. The first report
// per device and version wins; later ones are ignored.
func (s *DesiredStateStore) ReportOutcome(ctx context.Context, rolloutID domain.RolloutID, o domain.DeviceOutcome) error {
	if o.ReportedAt.IsZero() {
		o.ReportedAt = s.now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO device_outcomes (rollout_id, device_id, version, success, reported_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (rollout_id, device_id, version) DO NOTHING`,
		string(rolloutID), string(o.DeviceID), string(o.Version), o.Success, formatTime(o.ReportedAt),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// DesiredState returns what deviceID has been told to run for bundleID.
func (s *DesiredStateStore) DesiredState(ctx context.Context, deviceID domain.DeviceID, bundleID domain.BundleID) (DesiredState, error) {
	var (
		ds                                DesiredState
		tenant, rollout, version, updated string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT tenant_id, rollout_id, version, updated_at
		 FROM device_desired_states WHERE device_id = ? AND bundle_id = ?`,
		string(deviceID), string(bundleID),
	).Scan(&tenant, &rollout, &version, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ds, fmt.Errorf("desired state of device %q for bundle %q: %w", deviceID, bundleID, domain.ErrNotFound)
		}
		return ds, fmt.Errorf("scan desired state: %w", err)
	}
	ds.DeviceID = deviceID
	ds.BundleID = bundleID
	ds.TenantID = domain.TenantID(tenant)
	ds.RolloutID = domain.RolloutID(rollout)
	ds.Version = domain.BundleVersion(version)
	if ds.UpdatedAt, err = parseTime(updated); err != nil {
		return ds, err
	}
	return ds, nil
}

func (s *DesiredStateStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
