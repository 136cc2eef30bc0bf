package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

// CreateRolloutInput is the caller-provided input for creating a rollout.
type CreateRolloutInput struct {
	ID               domain.RolloutID
	TenantID         domain.TenantID
	BundleID         domain.BundleID
	TargetVersion    domain.BundleVersion
	PreviousVersion  domain.BundleVersion
	Name             string
	Description      string
	Target           domain.TargetSelector
	FailureThreshold float64
	CreatedBy        string
	Phases           []domain.PhaseSpec
}

// RolloutService handles rollout creation and operator actions. Progress
// between phases is driven by the [Reconciler].
type RolloutService struct {
	Rollouts   domain.RolloutRepository
	Dispatcher domain.Dispatcher
	Notifier   domain.NotificationSink // optional
	Logger     zerolog.Logger
	Now        func() time.Time

	MaxConflictRetries int
}

func (s *RolloutService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create validates and persists a pending rollout with its phases. A
// second active rollout for the same tenant and bundle is rejected with
// [domain.ErrAlreadyExists].
func (s *RolloutService) Create(ctx context.Context, in CreateRolloutInput) (domain.Rollout, error) {
	if len(in.Phases) == 0 {
		return domain.Rollout{}, fmt.Errorf("%w: a rollout needs at least one phase", domain.ErrInvalidArgument)
	}
	r, err := domain.NewRollout(domain.RolloutParams{
		ID:               in.ID,
		TenantID:         in.TenantID,
		BundleID:         in.BundleID,
		TargetVersion:    in.TargetVersion,
		PreviousVersion:  in.PreviousVersion,
		Name:             in.Name,
		Description:      in.Description,
		Target:           in.Target,
		FailureThreshold: in.FailureThreshold,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return domain.Rollout{}, err
	}
	for i, spec := range in.Phases {
		phase, err := domain.NewRolloutPhase(r.ID, i+1, spec)
		if err != nil {
			return domain.Rollout{}, err
		}
		if err := r.AddPhase(phase); err != nil {
			return domain.Rollout{}, err
		}
	}

	active, err := s.Rollouts.HasActiveRollout(ctx, r.TenantID, r.BundleID)
	if err != nil {
		return domain.Rollout{}, fmt.Errorf("check active rollout: %w", err)
	}
	if active {
		return domain.Rollout{}, fmt.Errorf("%w: tenant %q already has an active rollout of bundle %q", domain.ErrAlreadyExists, r.TenantID, r.BundleID)
	}
	if err := s.Rollouts.Create(ctx, r); err != nil {
		return domain.Rollout{}, err
	}

	s.Logger.Info().
		Str("rollout_id", string(r.ID)).
		Str("tenant_id", string(r.TenantID)).
		Str("bundle_id", string(r.BundleID)).
		Str("version", string(r.TargetVersion)).
		Int("phases", len(r.Phases)).
		Msg("rollout created")
	return s.Rollouts.Get(ctx, r.ID)
}

// Get retrieves a rollout by ID.
func (s *RolloutService) Get(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.Rollouts.Get(ctx, id)
}

// List returns rollouts in any of the given statuses, or all rollouts
// when none are given.
func (s *RolloutService) List(ctx context.Context, statuses ...domain.RolloutStatus) ([]domain.Rollout, error) {
	if len(statuses) == 0 {
		statuses = []domain.RolloutStatus{
			domain.RolloutStatusPending,
			domain.RolloutStatusInProgress,
			domain.RolloutStatusPaused,
			domain.RolloutStatusCompleted,
			domain.RolloutStatusFailed,
			domain.RolloutStatusRolledBack,
		}
	}
	return s.Rollouts.ListByStatus(ctx, statuses...)
}

// Progress reports on the rollout's current phase.
func (s *RolloutService) Progress(ctx context.Context, id domain.RolloutID) (domain.Progress, error) {
	r, err := s.Rollouts.Get(ctx, id)
	if err != nil {
		return domain.Progress{}, err
	}
	return r.OverallProgress(), nil
}

// Pause stops dispatch and phase advancement for an in-progress rollout.
func (s *RolloutService) Pause(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.apply(ctx, id, "pause", func(r *domain.Rollout) (bool, error) {
		return true, r.Pause()
	})
}

// Resume continues a paused rollout on the next reconciler tick.
func (s *RolloutService) Resume(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.apply(ctx, id, "resume", func(r *domain.Rollout) (bool, error) {
		return true, r.Resume(s.now())
	})
}

// Rollback sends the previous version to every device the rollout has
// assigned and then marks the rollout rolled back. When dispatch fails
// the rollout is left unchanged.
func (s *RolloutService) Rollback(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.apply(ctx, id, "roll back", func(r *domain.Rollout) (bool, error) {
		at := s.now()
		snapshot := *r
		if err := snapshot.Rollback(at); err != nil {
			return false, err
		}
		out, err := domain.DispatchDevices(ctx, s.Dispatcher, domain.DispatchInput{
			RolloutID: r.ID,
			TenantID:  r.TenantID,
			BundleID:  r.BundleID,
			Version:   r.PreviousVersion,
			Devices:   r.AssignedDevices(),
		})
		observability.RecordDispatched(out.Dispatched)
		if err != nil {
			return false, err
		}
		return true, r.Rollback(at)
	})
}

func (s *RolloutService) apply(ctx context.Context, id domain.RolloutID, action string, fn mutation) (domain.Rollout, error) {
	r, _, err := updateRollout(ctx, s.Rollouts, id, s.MaxConflictRetries, fn)
	if err != nil {
		return domain.Rollout{}, fmt.Errorf("%s rollout %s: %w", action, id, err)
	}
	s.Logger.Info().Str("rollout_id", string(id)).Str("status", string(r.Status)).Msgf("rollout %s", action)
	notifyAll(ctx, s.Notifier, s.Logger, r.PullEvents(), s.now())
	return r, nil
}

// notifyAll delivers events best-effort; failures are logged.
func notifyAll(ctx context.Context, sink domain.NotificationSink, logger zerolog.Logger, events []domain.Event, at time.Time) {
	if sink == nil {
		return
	}
	for _, n := range domain.Notifications(events, at) {
		if err := sink.Notify(ctx, n); err != nil {
			logger.Warn().Err(err).Str("rollout_id", string(n.RolloutID)).Str("event", string(n.Type)).Msg("notification failed")
		}
	}
}
