package main

import (
	"context"
	"fmt"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/config"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/dbosworkflows"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/goworkflows"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/syncworkflow"
)

// newReconcileRunner builds the runner for the configured engine and
// starts whatever the engine needs in the background. The returned stop
// function waits for that to finish.
func newReconcileRunner(ctx context.Context, cfg config.Config, wf *domain.ReconcileWorkflow) (domain.ReconcileRunner, func(), error) {
	switch cfg.Engine {
	case config.EngineSync:
		runner, err := (&syncworkflow.Engine{}).ReconcileRunner(wf)
		return runner, func() {}, err

	case config.EngineGoWorkflows:
		b := wfsqlite.NewSqliteBackend(cfg.DatabasePath + ".workflows")
		w := worker.New(b, nil)
		engine := &goworkflows.Engine{Worker: w, Client: client.New(b), Timeout: cfg.WorkflowTimeout}
		runner, err := engine.ReconcileRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		wctx, cancel := context.WithCancel(ctx)
		if err := w.Start(wctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("start go-workflows worker: %w", err)
		}
		return runner, func() {
			cancel()
			_ = w.WaitForCompletion()
		}, nil

	case config.EngineDBOS:
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "rolloutd",
			DatabaseURL: cfg.DBOSDatabaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create DBOS context: %w", err)
		}
		runner, err := (&dbosworkflows.Engine{DBOSCtx: dbosCtx}).ReconcileRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("launch DBOS: %w", err)
		}
		return runner, func() { dbos.Shutdown(dbosCtx, 5*time.Second) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}
