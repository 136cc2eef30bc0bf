package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

// OutcomeService applies device outcomes pushed by edge agents directly
// to a rollout, without waiting for the next reconciler poll. Outcomes
// are accepted while the rollout is paused.
type OutcomeService struct {
	Rollouts domain.RolloutRepository
	Logger   zerolog.Logger

	MaxConflictRetries int
}

// ReportOutcome records deviceID's result in the rollout's current phase.
// It reports false when the outcome was discarded: a duplicate, a late
// report from an earlier phase, or a rollout that has already finished.
func (s *OutcomeService) ReportOutcome(ctx context.Context, rolloutID domain.RolloutID, deviceID domain.DeviceID, success bool, at time.Time) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("%w: device ID is required", domain.ErrInvalidArgument)
	}
	_, recorded, err := updateRollout(ctx, s.Rollouts, rolloutID, s.MaxConflictRetries, func(r *domain.Rollout) (bool, error) {
		return r.RecordDeviceOutcome(deviceID, success, at)
	})
	if err != nil {
		return false, fmt.Errorf("report outcome for device %s: %w", deviceID, err)
	}
	if recorded {
		observability.RecordOutcome()
	}
	s.Logger.Debug().
		Str("rollout_id", string(rolloutID)).
		Str("device_id", string(deviceID)).
		Bool("success", success).
		Bool("recorded", recorded).
		Msg("device outcome")
	return recorded, nil
}
