package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newPhase(t *testing.T, number, target int) domain.RolloutPhase {
	t.Helper()
	p, err := domain.NewRolloutPhase("r1", number, domain.PhaseSpec{
		Name:              "phase",
		TargetDeviceCount: target,
	})
	if err != nil {
		t.Fatalf("NewRolloutPhase: %v", err)
	}
	return p
}

func TestPhase_StartRequiresPending(t *testing.T) {
	p := newPhase(t, 1, 1)
	if err := p.Start(t0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Status != domain.PhaseStatusInProgress {
		t.Errorf("Status = %q, want %q", p.Status, domain.PhaseStatusInProgress)
	}
	if p.StartedAt == nil || !p.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", p.StartedAt, t0)
	}
	if err := p.Start(t0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second Start: got %v, want ErrInvalidTransition", err)
	}
}

func TestPhase_CompleteBeforeStartFails(t *testing.T) {
	p := newPhase(t, 1, 1)
	if err := p.Complete(t0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Complete: got %v, want ErrInvalidTransition", err)
	}
	if err := p.Fail(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Fail: got %v, want ErrInvalidTransition", err)
	}
}

func TestPhase_TerminalStatesAreFinal(t *testing.T) {
	p := newPhase(t, 1, 1)
	_ = p.Start(t0)
	if err := p.Complete(t0.Add(time.Minute)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !p.IsTerminal() {
		t.Fatal("completed phase should be terminal")
	}
	for name, fn := range map[string]func() error{
		"Start":    func() error { return p.Start(t0) },
		"Complete": func() error { return p.Complete(t0) },
		"Fail":     p.Fail,
		"Skip":     p.Skip,
	} {
		if err := fn(); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("%s after Complete: got %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestPhase_SkipFromPendingOrInProgress(t *testing.T) {
	p := newPhase(t, 1, 1)
	if err := p.Skip(); err != nil {
		t.Fatalf("Skip pending: %v", err)
	}
	if p.Status != domain.PhaseStatusSkipped {
		t.Errorf("Status = %q, want %q", p.Status, domain.PhaseStatusSkipped)
	}

	q := newPhase(t, 1, 1)
	_ = q.Start(t0)
	if err := q.Skip(); err != nil {
		t.Fatalf("Skip in progress: %v", err)
	}
}

func TestPhase_RatesAreZeroWithoutOutcomes(t *testing.T) {
	p := newPhase(t, 1, 3)
	if p.SuccessRate() != 0 || p.FailureRate() != 0 {
		t.Fatalf("rates = (%v, %v), want (0, 0)", p.SuccessRate(), p.FailureRate())
	}
}

func TestPhase_RatesSumToOne(t *testing.T) {
	cases := []struct{ success, failure int }{
		{1, 0}, {0, 1}, {4, 1}, {2, 1}, {7, 13},
	}
	for _, c := range cases {
		p := newPhase(t, 1, 1)
		for i := 0; i < c.success; i++ {
			p.RecordOutcome(true)
		}
		for i := 0; i < c.failure; i++ {
			p.RecordOutcome(false)
		}
		if sum := p.SuccessRate() + p.FailureRate(); math.Abs(sum-1) > 1e-9 {
			t.Errorf("%d/%d: rates sum to %v, want 1", c.success, c.failure, sum)
		}
	}
}

func TestPhase_HealthyWithNoOutcomesRegardlessOfThreshold(t *testing.T) {
	p := newPhase(t, 1, 5)
	for _, threshold := range []float64{0, 0.05, 1} {
		if !p.IsHealthy(threshold) {
			t.Errorf("IsHealthy(%v) = false with no outcomes, want true", threshold)
		}
	}
}

func TestPhase_UnhealthyAboveThreshold(t *testing.T) {
	p := newPhase(t, 1, 5)
	for i := 0; i < 4; i++ {
		p.RecordOutcome(true)
	}
	p.RecordOutcome(false)

	if got := p.FailureRate(); math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("FailureRate = %v, want 0.2", got)
	}
	if p.IsHealthy(0.05) {
		t.Error("IsHealthy(0.05) = true at failure rate 0.2, want false")
	}
	if !p.IsHealthy(0.2) {
		t.Error("IsHealthy(0.2) = false at failure rate 0.2, want true")
	}
}

func TestPhase_HasMetTargetDeviceCountIsMonotonic(t *testing.T) {
	p := newPhase(t, 1, 3)
	results := []bool{true, false, true, true, false}
	for i, success := range results {
		before := p.HasMetTargetDeviceCount()
		p.RecordOutcome(success)
		after := p.HasMetTargetDeviceCount()
		if before && !after {
			t.Fatalf("outcome %d: HasMetTargetDeviceCount went from true to false", i)
		}
		if want := i+1 >= 3; after != want {
			t.Errorf("after %d outcomes: HasMetTargetDeviceCount = %v, want %v", i+1, after, want)
		}
	}
}

func TestPhaseSpec_Validate(t *testing.T) {
	negative := -time.Second
	cases := map[string]domain.PhaseSpec{
		"empty name":        {TargetDeviceCount: 1},
		"negative count":    {Name: "p", TargetDeviceCount: -1},
		"percentage > 100":  {Name: "p", TargetPercentage: 101},
		"percentage NaN":    {Name: "p", TargetPercentage: math.NaN()},
		"no sizing":         {Name: "p"},
		"negative duration": {Name: "p", TargetDeviceCount: 1, MinHealthyDuration: &negative},
	}
	for name, spec := range cases {
		if err := spec.Validate(); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestAssignment_ResolveOnce(t *testing.T) {
	a := domain.NewDeviceAssignment("r1", "p1", "dev-1", t0)
	if a.Outcome != domain.AssignmentPending {
		t.Fatalf("Outcome = %q, want pending", a.Outcome)
	}
	if err := a.Resolve(true, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.Outcome != domain.AssignmentSucceeded {
		t.Errorf("Outcome = %q, want %q", a.Outcome, domain.AssignmentSucceeded)
	}
	if err := a.Resolve(false, t0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second Resolve: got %v, want ErrInvalidTransition", err)
	}
	if a.Outcome != domain.AssignmentSucceeded {
		t.Errorf("Outcome changed to %q after rejected Resolve", a.Outcome)
	}
}

func TestAssignmentIDFor_IsStablePerPhaseAndDevice(t *testing.T) {
	a := domain.AssignmentIDFor("p1", "dev-1")
	if b := domain.AssignmentIDFor("p1", "dev-1"); a != b {
		t.Errorf("IDs differ for same inputs: %s vs %s", a, b)
	}
	if c := domain.AssignmentIDFor("p2", "dev-1"); a == c {
		t.Errorf("IDs equal across phases: %s", a)
	}
}
