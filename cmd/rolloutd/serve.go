package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/application"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/infrastructure/sqlite"
	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rollout reconciler and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	observability.RegisterMetrics()

	db, err := c.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rollouts := &sqlite.RolloutRepo{DB: db}
	wf := &domain.ReconcileWorkflow{
		Rollouts:          rollouts,
		Resolver:          &domain.RegistryTargetResolver{Devices: &sqlite.DeviceRepo{DB: db}},
		Dispatcher:        &sqlite.DesiredStateStore{DB: db},
		Notifier:          &observability.LogNotifier{Logger: c.logger.With().Str("component", "notifier").Logger()},
		AssignmentTimeout: c.cfg.AssignmentTimeout,
	}
	runner, stopEngine, err := newReconcileRunner(ctx, c.cfg, wf)
	if err != nil {
		return err
	}
	defer stopEngine()

	if c.cfg.MetricsAddr != "" {
		srv := c.startMetricsServer()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	reconciler := &application.Reconciler{
		Rollouts:           rollouts,
		Workflow:           runner,
		Logger:             c.logger.With().Str("component", "reconciler").Logger(),
		Interval:           c.cfg.ReconcileInterval,
		Workers:            c.cfg.Workers,
		MaxConflictRetries: c.cfg.MaxConflictRetries,
	}
	c.logger.Info().
		Str("engine", string(c.cfg.Engine)).
		Str("database", c.cfg.DatabasePath).
		Str("metrics_addr", c.cfg.MetricsAddr).
		Msg("rolloutd serving")
	return reconciler.Run(ctx)
}

func (c *cli) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Str("addr", c.cfg.MetricsAddr).Msg("metrics server stopped")
		}
	}()
	return srv
}
