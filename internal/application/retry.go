package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// DefaultMaxConflictRetries bounds how often an operation reloads a
// rollout after losing an optimistic concurrency race.
const DefaultMaxConflictRetries = 3

// mutation changes a loaded rollout. It reports whether anything changed;
// unchanged rollouts are not written.
type mutation func(r *domain.Rollout) (changed bool, err error)

// updateRollout loads the rollout, applies fn and writes the result,
// starting over from a fresh load when the write conflicts.
func updateRollout(ctx context.Context, repo domain.RolloutRepository, id domain.RolloutID, retries int, fn mutation) (domain.Rollout, bool, error) {
	if retries <= 0 {
		retries = DefaultMaxConflictRetries
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		var r domain.Rollout
		r, err = repo.Get(ctx, id)
		if err != nil {
			return domain.Rollout{}, false, err
		}
		changed, ferr := fn(&r)
		if ferr != nil {
			return domain.Rollout{}, false, ferr
		}
		if !changed {
			return r, false, nil
		}
		err = repo.Update(ctx, &r)
		if err == nil {
			return r, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Rollout{}, false, err
		}
	}
	return domain.Rollout{}, false, fmt.Errorf("rollout %s: gave up after %d attempts: %w", id, retries+1, err)
}
