package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// RolloutRepo implements [domain.RolloutRepository] backed by SQLite. A
// rollout, its phases and their assignments are written in one
// transaction.
type RolloutRepo struct {
	DB *sql.DB
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// selectorRecord is the stored form of a [domain.TargetSelector].
type selectorRecord struct {
	Type        string            `json:"type"`
	DeviceIDs   []string          `json:"device_ids,omitempty"`
	MatchLabels map[string]string `json:"match_labels,omitempty"`
}

func marshalSelector(sel domain.TargetSelector) (string, error) {
	rec := selectorRecord{Type: string(sel.Type), MatchLabels: sel.MatchLabels}
	for _, id := range sel.DeviceIDs {
		rec.DeviceIDs = append(rec.DeviceIDs, string(id))
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal target selector: %w", err)
	}
	return string(b), nil
}

func unmarshalSelector(s string) (domain.TargetSelector, error) {
	var rec selectorRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return domain.TargetSelector{}, fmt.Errorf("unmarshal target selector: %w", err)
	}
	sel := domain.TargetSelector{Type: domain.SelectorType(rec.Type), MatchLabels: rec.MatchLabels}
	for _, id := range rec.DeviceIDs {
		sel.DeviceIDs = append(sel.DeviceIDs, domain.DeviceID(id))
	}
	return sel, nil
}

func (r *RolloutRepo) Create(ctx context.Context, ro domain.Rollout) error {
	sel, err := marshalSelector(ro.Target)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rollouts (id, tenant_id, bundle_id, target_version, previous_version, name, description,
		                       target_selector, status, current_phase_number, failure_threshold, created_by,
		                       created_at, started_at, completed_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		string(ro.ID), string(ro.TenantID), string(ro.BundleID), string(ro.TargetVersion), string(ro.PreviousVersion),
		ro.Name, ro.Description, sel, string(ro.Status), ro.CurrentPhaseNumber, ro.FailureThreshold, ro.CreatedBy,
		formatTime(ro.CreatedAt), nullTime(ro.StartedAt), nullTime(ro.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rollout %q (tenant %q, bundle %q): %w", ro.ID, ro.TenantID, ro.BundleID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert rollout: %w", err)
	}
	if err := writePhases(ctx, tx, ro); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *RolloutRepo) Get(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return loadRollout(ctx, r.DB, id)
}

func (r *RolloutRepo) Update(ctx context.Context, ro *domain.Rollout) error {
	sel, err := marshalSelector(ro.Target)
	if err != nil {
		return err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE rollouts
		 SET name = ?, description = ?, previous_version = ?, target_selector = ?, status = ?,
		     current_phase_number = ?, failure_threshold = ?, started_at = ?, completed_at = ?,
		     version = version + 1
		 WHERE id = ? AND version = ?`,
		ro.Name, ro.Description, string(ro.PreviousVersion), sel, string(ro.Status),
		ro.CurrentPhaseNumber, ro.FailureThreshold, nullTime(ro.StartedAt), nullTime(ro.CompletedAt),
		string(ro.ID), ro.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rollout %q: %w", ro.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("update rollout: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM rollouts WHERE id = ?`, string(ro.ID)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rollout %q: %w", ro.ID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check rollout: %w", err)
		}
		return fmt.Errorf("rollout %q at version %d: %w", ro.ID, ro.Version, domain.ErrConflict)
	}

	if err := writePhases(ctx, tx, *ro); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	ro.Version++
	return nil
}

// writePhases upserts every phase and assignment of ro. Assignment rows
// only ever change their outcome.
func writePhases(ctx context.Context, tx *sql.Tx, ro domain.Rollout) error {
	phaseStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rollout_phases (id, rollout_id, phase_number, name, target_device_count, target_percentage,
		                             min_healthy_duration, status, success_count, failure_count, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     name = excluded.name,
		     target_device_count = excluded.target_device_count,
		     target_percentage = excluded.target_percentage,
		     min_healthy_duration = excluded.min_healthy_duration,
		     status = excluded.status,
		     success_count = excluded.success_count,
		     failure_count = excluded.failure_count,
		     started_at = excluded.started_at,
		     completed_at = excluded.completed_at`)
	if err != nil {
		return fmt.Errorf("prepare phase upsert: %w", err)
	}
	defer phaseStmt.Close()

	assignStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rollout_device_assignments (id, rollout_id, phase_id, device_id, assigned_at, outcome, outcome_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     outcome = excluded.outcome,
		     outcome_at = excluded.outcome_at`)
	if err != nil {
		return fmt.Errorf("prepare assignment upsert: %w", err)
	}
	defer assignStmt.Close()

	for _, p := range ro.Phases {
		_, err := phaseStmt.ExecContext(ctx,
			string(p.ID), string(ro.ID), p.PhaseNumber, p.Name, p.TargetDeviceCount, p.TargetPercentage,
			nullDuration(p.MinHealthyDuration), string(p.Status), p.SuccessCount, p.FailureCount,
			nullTime(p.StartedAt), nullTime(p.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert phase %d: %w", p.PhaseNumber, err)
		}
		for _, a := range p.Assignments {
			_, err := assignStmt.ExecContext(ctx,
				string(a.ID), string(ro.ID), string(p.ID), string(a.DeviceID),
				formatTime(a.AssignedAt), string(a.Outcome), nullTime(a.OutcomeAt),
			)
			if err != nil {
				return fmt.Errorf("upsert assignment for device %q: %w", a.DeviceID, err)
			}
		}
	}
	return nil
}

func (r *RolloutRepo) ListByStatus(ctx context.Context, statuses ...domain.RolloutStatus) ([]domain.Rollout, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM rollouts WHERE status IN (`+placeholders(len(statuses))+`) ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	var ids []domain.RolloutID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan rollout id: %w", err)
		}
		ids = append(ids, domain.RolloutID(id))
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Loaded one by one after the cursor is closed; in-memory databases
	// have a single connection.
	out := make([]domain.Rollout, 0, len(ids))
	for _, id := range ids {
		ro, err := loadRollout(ctx, r.DB, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ro)
	}
	return out, nil
}

func (r *RolloutRepo) HasActiveRollout(ctx context.Context, tenant domain.TenantID, bundle domain.BundleID) (bool, error) {
	args := []any{string(tenant), string(bundle)}
	for _, s := range domain.ActiveRolloutStatuses {
		args = append(args, string(s))
	}
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rollouts WHERE tenant_id = ? AND bundle_id = ? AND status IN (`+
			placeholders(len(domain.ActiveRolloutStatuses))+`))`,
		args...,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active rollout: %w", err)
	}
	return exists, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func loadRollout(ctx context.Context, q querier, id domain.RolloutID) (domain.Rollout, error) {
	var (
		ro                                         domain.Rollout
		rid, tenant, bundle, target, previous, sel string
		status, createdAt                          string
		startedAt, completedAt                     sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, tenant_id, bundle_id, target_version, previous_version, name, description, target_selector,
		        status, current_phase_number, failure_threshold, created_by, created_at, started_at, completed_at, version
		 FROM rollouts WHERE id = ?`,
		string(id),
	).Scan(&rid, &tenant, &bundle, &target, &previous, &ro.Name, &ro.Description, &sel,
		&status, &ro.CurrentPhaseNumber, &ro.FailureThreshold, &ro.CreatedBy, &createdAt, &startedAt, &completedAt, &ro.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ro, fmt.Errorf("rollout %q: %w", id, domain.ErrNotFound)
		}
		return ro, fmt.Errorf("scan rollout: %w", err)
	}
	ro.ID = domain.RolloutID(rid)
	ro.TenantID = domain.TenantID(tenant)
	ro.BundleID = domain.BundleID(bundle)
	ro.TargetVersion = domain.BundleVersion(target)
	ro.PreviousVersion = domain.BundleVersion(previous)
	ro.Status = domain.RolloutStatus(status)
	if ro.Target, err = unmarshalSelector(sel); err != nil {
		return ro, err
	}
	if ro.CreatedAt, err = parseTime(createdAt); err != nil {
		return ro, err
	}
	if ro.StartedAt, err = parseNullTime(startedAt); err != nil {
		return ro, err
	}
	if ro.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return ro, err
	}

	if ro.Phases, err = loadPhases(ctx, q, ro.ID); err != nil {
		return ro, err
	}
	assignments, err := loadAssignments(ctx, q, ro.ID)
	if err != nil {
		return ro, err
	}
	for i := range ro.Phases {
		ro.Phases[i].Assignments = assignments[ro.Phases[i].ID]
	}
	return ro, nil
}

func loadPhases(ctx context.Context, q querier, id domain.RolloutID) ([]domain.RolloutPhase, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, phase_number, name, target_device_count, target_percentage, min_healthy_duration,
		        status, success_count, failure_count, started_at, completed_at
		 FROM rollout_phases WHERE rollout_id = ? ORDER BY phase_number`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var phases []domain.RolloutPhase
	for rows.Next() {
		var (
			p                      domain.RolloutPhase
			pid, status            string
			minHealthy             sql.NullInt64
			startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&pid, &p.PhaseNumber, &p.Name, &p.TargetDeviceCount, &p.TargetPercentage, &minHealthy,
			&status, &p.SuccessCount, &p.FailureCount, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		p.ID = domain.PhaseID(pid)
		p.RolloutID = id
		p.Status = domain.PhaseStatus(status)
		p.MinHealthyDuration = parseNullDuration(minHealthy)
		if p.StartedAt, err = parseNullTime(startedAt); err != nil {
			return nil, err
		}
		if p.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// loadAssignments returns the rollout's assignments grouped by phase, in
// the order they were first written.
func loadAssignments(ctx context.Context, q querier, id domain.RolloutID) (map[domain.PhaseID][]domain.DeviceAssignment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, phase_id, device_id, assigned_at, outcome, outcome_at
		 FROM rollout_device_assignments WHERE rollout_id = ? ORDER BY rowid`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.PhaseID][]domain.DeviceAssignment)
	for rows.Next() {
		var (
			a                            domain.DeviceAssignment
			aid, pid, device, assignedAt string
			outcome                      string
			outcomeAt                    sql.NullString
		)
		if err := rows.Scan(&aid, &pid, &device, &assignedAt, &outcome, &outcomeAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.ID = domain.AssignmentID(aid)
		a.RolloutID = id
		a.PhaseID = domain.PhaseID(pid)
		a.DeviceID = domain.DeviceID(device)
		a.Outcome = domain.AssignmentOutcome(outcome)
		if a.AssignedAt, err = parseTime(assignedAt); err != nil {
			return nil, err
		}
		if a.OutcomeAt, err = parseNullTime(outcomeAt); err != nil {
			return nil, err
		}
		out[a.PhaseID] = append(out[a.PhaseID], a)
	}
	return out, rows.Err()
}
