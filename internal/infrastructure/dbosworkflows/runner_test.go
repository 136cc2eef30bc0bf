package dbosworkflows_test

import (
	"context"
	"testing"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/application"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/dbosworkflows"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/sqlite"
)

func startPostgres(t *testing.T) string {
	t.Helper()

	// Ryuk (the reaper) requires a Docker bridge network that does not
	// exist on Podman. We handle cleanup via t.Cleanup instead.
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dbos_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get postgres connection string: %v", err)
	}
	return connStr
}

func TestReconcile_DBOS(t *testing.T) {
	connStr := startPostgres(t)

	ctx := context.Background()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		AppName:     "rolloutd-dbos-test",
		DatabaseURL: connStr,
	})
	if err != nil {
		t.Fatalf("NewDBOSContext: %v", err)
	}

	now := func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	db := sqlite.OpenTestDB(t)
	deviceRepo := &sqlite.DeviceRepo{DB: db}
	rolloutRepo := &sqlite.RolloutRepo{DB: db}
	store := &sqlite.DesiredStateStore{DB: db, Now: now}

	wf := &domain.ReconcileWorkflow{
		Rollouts:   rolloutRepo,
		Resolver:   &domain.RegistryTargetResolver{Devices: deviceRepo},
		Dispatcher: store,
	}

	engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
	runner, err := engine.ReconcileRunner(wf)
	if err != nil {
		t.Fatalf("ReconcileRunner: %v", err)
	}

	if err := dbos.Launch(dbosCtx); err != nil {
		t.Fatalf("dbos.Launch: %v", err)
	}
	t.Cleanup(func() { dbos.Shutdown(dbosCtx, 5*time.Second) })

	deviceSvc := &application.DeviceService{Devices: deviceRepo}
	for _, id := range []domain.DeviceID{"d1", "d2", "d3"} {
		if err := deviceSvc.Register(ctx, domain.Device{ID: id, TenantID: "t1", Name: "gateway " + string(id)}); err != nil {
			t.Fatalf("register device %s: %v", id, err)
		}
	}

	rolloutSvc := &application.RolloutService{Rollouts: rolloutRepo, Dispatcher: store, Now: now}
	if _, err := rolloutSvc.Create(ctx, application.CreateRolloutInput{
		ID:              "r1",
		TenantID:        "t1",
		BundleID:        "telemetry-agent",
		TargetVersion:   "1.2.0",
		PreviousVersion: "1.1.0",
		Name:            "telemetry agent 1.2.0",
		Target:          domain.TargetSelector{Type: domain.SelectorStatic, DeviceIDs: []domain.DeviceID{"d3", "d1"}},
		Phases: []domain.PhaseSpec{
			{Name: "canary", TargetDeviceCount: 1},
			{Name: "rest", TargetPercentage: 100},
		},
	}); err != nil {
		t.Fatalf("Create rollout: %v", err)
	}

	reconciler := &application.Reconciler{Rollouts: rolloutRepo, Workflow: runner, Now: now}

	res, err := reconciler.Reconcile(ctx, "r1")
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if res.Decision != domain.DecisionStarted {
		t.Errorf("Decision = %q, want %q", res.Decision, domain.DecisionStarted)
	}

	ds, err := store.DesiredState(ctx, "d3", "telemetry-agent")
	if err != nil {
		t.Fatalf("DesiredState(d3): %v", err)
	}
	if ds.Version != "1.2.0" {
		t.Errorf("desired version of d3 = %q, want %q", ds.Version, "1.2.0")
	}

	if err := store.ReportOutcome(ctx, "r1", domain.DeviceOutcome{DeviceID: "d3", Version: "1.2.0", Success: false}); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	res, err = reconciler.Reconcile(ctx, "r1")
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if res.Decision != domain.DecisionRolledBack {
		t.Errorf("Decision = %q, want %q", res.Decision, domain.DecisionRolledBack)
	}
	if res.Status != domain.RolloutStatusRolledBack {
		t.Errorf("Status = %q, want %q", res.Status, domain.RolloutStatusRolledBack)
	}

	ds, err = store.DesiredState(ctx, "d3", "telemetry-agent")
	if err != nil {
		t.Fatalf("DesiredState(d3): %v", err)
	}
	if ds.Version != "1.1.0" {
		t.Errorf("desired version of d3 after rollback = %q, want %q", ds.Version, "1.1.0")
	}
	if _, err := store.DesiredState(ctx, "d1", "telemetry-agent"); err == nil {
		t.Error("d1 received desired state, want none")
	}
}
