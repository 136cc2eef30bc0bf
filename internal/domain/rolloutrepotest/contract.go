// Package rolloutrepotest provides contract tests for
// [domain.RolloutRepository] implementations.
package rolloutrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// Factory creates a fresh [domain.RolloutRepository] for each test.
type Factory func(t *testing.T) domain.RolloutRepository

// Run exercises the [domain.RolloutRepository] contract.
func Run(t *testing.T, factory Factory) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	hold := 15 * time.Minute

	sampleRollout := func(t *testing.T, id domain.RolloutID, bundle domain.BundleID) domain.Rollout {
		t.Helper()
		r, err := domain.NewRollout(domain.RolloutParams{
			ID:               id,
			TenantID:         "tenant-a",
			BundleID:         bundle,
			TargetVersion:    "2.1.0",
			PreviousVersion:  "2.0.3",
			Name:             "agent 2.1",
			Description:      "canary then fleet",
			Target:           domain.TargetSelector{Type: domain.SelectorStatic, DeviceIDs: []domain.DeviceID{"dev-1", "dev-2", "dev-3"}},
			FailureThreshold: 0.1,
			CreatedBy:        "ops@example.com",
			CreatedAt:        now,
		})
		if err != nil {
			t.Fatalf("NewRollout: %v", err)
		}
		specs := []domain.PhaseSpec{
			{Name: "canary", TargetDeviceCount: 1, MinHealthyDuration: &hold},
			{Name: "fleet", TargetPercentage: 100},
		}
		for i, spec := range specs {
			phase, err := domain.NewRolloutPhase(r.ID, i+1, spec)
			if err != nil {
				t.Fatalf("NewRolloutPhase: %v", err)
			}
			if err := r.AddPhase(phase); err != nil {
				t.Fatalf("AddPhase: %v", err)
			}
		}
		return r
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		r := sampleRollout(t, "r1", "bundle-x")

		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.RolloutStatusPending {
			t.Errorf("Status = %q, want %q", got.Status, domain.RolloutStatusPending)
		}
		if got.TargetVersion != "2.1.0" || got.PreviousVersion != "2.0.3" {
			t.Errorf("versions = (%q, %q), want (2.1.0, 2.0.3)", got.TargetVersion, got.PreviousVersion)
		}
		if got.Description != "canary then fleet" || got.CreatedBy != "ops@example.com" {
			t.Errorf("Description/CreatedBy = (%q, %q)", got.Description, got.CreatedBy)
		}
		if got.FailureThreshold != 0.1 {
			t.Errorf("FailureThreshold = %v, want 0.1", got.FailureThreshold)
		}
		if !got.CreatedAt.Equal(now) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
		}
		if got.Target.Type != domain.SelectorStatic || len(got.Target.DeviceIDs) != 3 {
			t.Errorf("Target = %+v, want static selector with 3 devices", got.Target)
		}
		if len(got.Phases) != 2 {
			t.Fatalf("Phases = %d, want 2", len(got.Phases))
		}
		canary, fleet := got.Phases[0], got.Phases[1]
		if canary.PhaseNumber != 1 || canary.Name != "canary" || canary.TargetDeviceCount != 1 {
			t.Errorf("phase 1 = %+v", canary)
		}
		if canary.MinHealthyDuration == nil || *canary.MinHealthyDuration != hold {
			t.Errorf("phase 1 MinHealthyDuration = %v, want %v", canary.MinHealthyDuration, hold)
		}
		if fleet.PhaseNumber != 2 || fleet.TargetPercentage != 100 || fleet.MinHealthyDuration != nil {
			t.Errorf("phase 2 = %+v", fleet)
		}
		if got.Version == 0 {
			t.Error("Version was not assigned")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		r := sampleRollout(t, "r1", "bundle-x")
		_ = repo.Create(ctx, r)
		err := repo.Create(ctx, r)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("CreateSecondActiveRolloutForBundle", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sampleRollout(t, "r1", "bundle-x")); err != nil {
			t.Fatalf("Create r1: %v", err)
		}
		err := repo.Create(ctx, sampleRollout(t, "r2", "bundle-x"))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("Create r2: got %v, want ErrAlreadyExists", err)
		}
		if err := repo.Create(ctx, sampleRollout(t, "r3", "bundle-y")); err != nil {
			t.Fatalf("Create r3 for another bundle: %v", err)
		}

		r1, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatal(err)
		}
		if err := r1.Rollback(now); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, &r1); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if err := repo.Create(ctx, sampleRollout(t, "r2", "bundle-x")); err != nil {
			t.Fatalf("Create r2 after r1 finished: %v", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdatePersistsProgress", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sampleRollout(t, "r1", "bundle-x")); err != nil {
			t.Fatal(err)
		}

		r, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Start(now); err != nil {
			t.Fatal(err)
		}
		r.AssignToCurrentPhase([]domain.DeviceID{"dev-1", "dev-2"}, now)
		if err := r.StartCurrentPhase(now); err != nil {
			t.Fatal(err)
		}
		reported := now.Add(3 * time.Minute)
		if _, err := r.RecordDeviceOutcome("dev-1", true, reported); err != nil {
			t.Fatal(err)
		}
		if _, err := r.RecordDeviceOutcome("dev-2", false, reported); err != nil {
			t.Fatal(err)
		}
		before := r.Version
		if err := repo.Update(ctx, &r); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if r.Version <= before {
			t.Errorf("Version = %d after Update, want > %d", r.Version, before)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.RolloutStatusInProgress {
			t.Errorf("Status = %q, want %q", got.Status, domain.RolloutStatusInProgress)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(now) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, now)
		}
		if got.Version != r.Version {
			t.Errorf("stored Version = %d, want %d", got.Version, r.Version)
		}
		phase := got.CurrentPhase()
		if phase.Status != domain.PhaseStatusInProgress {
			t.Errorf("phase Status = %q, want %q", phase.Status, domain.PhaseStatusInProgress)
		}
		if phase.SuccessCount != 1 || phase.FailureCount != 1 {
			t.Errorf("counts = (%d, %d), want (1, 1)", phase.SuccessCount, phase.FailureCount)
		}
		if len(phase.Assignments) != 2 {
			t.Fatalf("Assignments = %d, want 2", len(phase.Assignments))
		}
		a, ok := phase.Assignment("dev-2")
		if !ok {
			t.Fatal("assignment for dev-2 missing")
		}
		if a.Outcome != domain.AssignmentFailed {
			t.Errorf("dev-2 Outcome = %q, want %q", a.Outcome, domain.AssignmentFailed)
		}
		if a.OutcomeAt == nil || !a.OutcomeAt.Equal(reported) {
			t.Errorf("dev-2 OutcomeAt = %v, want %v", a.OutcomeAt, reported)
		}
		if a.ID != domain.AssignmentIDFor(phase.ID, "dev-2") {
			t.Errorf("assignment ID = %s, want the derived ID", a.ID)
		}
	})

	t.Run("UpdatePersistsPhaseAdvance", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sampleRollout(t, "r1", "bundle-x")); err != nil {
			t.Fatal(err)
		}
		r, _ := repo.Get(ctx, "r1")
		if err := r.Start(now); err != nil {
			t.Fatal(err)
		}
		if err := r.StartCurrentPhase(now); err != nil {
			t.Fatal(err)
		}
		if err := r.CompleteCurrentPhase(now.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		if err := r.AdvancePhase(); err != nil {
			t.Fatal(err)
		}
		r.CurrentPhase().TargetDeviceCount = 2
		if err := repo.Update(ctx, &r); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "r1")
		if got.CurrentPhaseNumber != 1 {
			t.Errorf("CurrentPhaseNumber = %d, want 1", got.CurrentPhaseNumber)
		}
		if got.Phases[0].Status != domain.PhaseStatusCompleted {
			t.Errorf("phase 1 Status = %q, want %q", got.Phases[0].Status, domain.PhaseStatusCompleted)
		}
		if got.Phases[0].CompletedAt == nil || !got.Phases[0].CompletedAt.Equal(now.Add(time.Hour)) {
			t.Errorf("phase 1 CompletedAt = %v", got.Phases[0].CompletedAt)
		}
		if got.Phases[1].TargetDeviceCount != 2 {
			t.Errorf("phase 2 TargetDeviceCount = %d, want 2", got.Phases[1].TargetDeviceCount)
		}
	})

	t.Run("UpdateStaleVersionConflicts", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sampleRollout(t, "r1", "bundle-x")); err != nil {
			t.Fatal(err)
		}

		first, _ := repo.Get(ctx, "r1")
		second, _ := repo.Get(ctx, "r1")
		if err := first.Start(now); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, &first); err != nil {
			t.Fatalf("first Update: %v", err)
		}
		if err := second.Rollback(now); err != nil {
			t.Fatal(err)
		}
		err := repo.Update(ctx, &second)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("stale Update: got %v, want ErrConflict", err)
		}

		got, _ := repo.Get(ctx, "r1")
		if got.Status != domain.RolloutStatusInProgress {
			t.Errorf("Status = %q after rejected write, want %q", got.Status, domain.RolloutStatusInProgress)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		r := sampleRollout(t, "ghost", "bundle-x")
		err := repo.Update(context.Background(), &r)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByStatus", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		for _, b := range []domain.BundleID{"bundle-a", "bundle-b", "bundle-c"} {
			if err := repo.Create(ctx, sampleRollout(t, domain.RolloutID("r-"+string(b)), b)); err != nil {
				t.Fatal(err)
			}
		}
		started, _ := repo.Get(ctx, "r-bundle-b")
		if err := started.Start(now); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, &started); err != nil {
			t.Fatal(err)
		}
		failed, _ := repo.Get(ctx, "r-bundle-c")
		if err := failed.Fail(now); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, &failed); err != nil {
			t.Fatal(err)
		}

		got, err := repo.ListByStatus(ctx, domain.RolloutStatusPending, domain.RolloutStatusInProgress)
		if err != nil {
			t.Fatalf("ListByStatus: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByStatus: got %d, want 2", len(got))
		}
		for _, r := range got {
			if r.ID == "r-bundle-c" {
				t.Error("failed rollout listed as active")
			}
			if len(r.Phases) != 2 {
				t.Errorf("%s: Phases = %d, want 2", r.ID, len(r.Phases))
			}
		}
	})

	t.Run("HasActiveRollout", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		active, err := repo.HasActiveRollout(ctx, "tenant-a", "bundle-x")
		if err != nil {
			t.Fatalf("HasActiveRollout: %v", err)
		}
		if active {
			t.Fatal("HasActiveRollout = true on empty repository")
		}

		if err := repo.Create(ctx, sampleRollout(t, "r1", "bundle-x")); err != nil {
			t.Fatal(err)
		}
		r, _ := repo.Get(ctx, "r1")
		if err := r.Start(now); err != nil {
			t.Fatal(err)
		}
		if err := r.Pause(); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, &r); err != nil {
			t.Fatal(err)
		}
		if active, _ := repo.HasActiveRollout(ctx, "tenant-a", "bundle-x"); !active {
			t.Error("paused rollout not counted as active")
		}
		if active, _ := repo.HasActiveRollout(ctx, "tenant-b", "bundle-x"); active {
			t.Error("active rollout leaked across tenants")
		}

		if err := r.Rollback(now); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, &r); err != nil {
			t.Fatal(err)
		}
		if active, _ := repo.HasActiveRollout(ctx, "tenant-a", "bundle-x"); active {
			t.Error("rolled back rollout counted as active")
		}
	})
}
