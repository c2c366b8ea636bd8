package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/stridesync/internal/metrics"
)

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand() *cobra.Command {
	var interval time.Duration
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Sync on a fixed interval and serve metrics",
		Long: `Run the sync pipeline immediately and then every schedule.interval until
interrupted. Runs never overlap: a tick that fires while a run is still in
progress is skipped.

Prometheus metrics are served on schedule.metrics_addr at /metrics.`,
		Example: `  stridesync schedule --interval 6h --metrics-addr :9464`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cc.Cfg.Schedule.Interval = interval
			}
			if cmd.Flags().Changed("metrics-addr") {
				cc.Cfg.Schedule.MetricsAddr = metricsAddr
			}
			if cc.Cfg.Schedule.Interval <= 0 {
				return fmt.Errorf("schedule interval must be positive, got %s", cc.Cfg.Schedule.Interval)
			}
			return runSchedule(cmd.Context(), cc)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between runs (default from schedule.interval)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address, empty to disable (default from schedule.metrics_addr)")
	return cmd
}

func runSchedule(ctx context.Context, cc *CommandContext) error {
	logger := cc.Logger
	m := metrics.New()

	runner, err := newRunner(ctx, cc, m)
	if err != nil {
		return err
	}
	defer runner.Close()

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err = scheduler.Every(cc.Cfg.Schedule.Interval).Do(func() {
		partition, err := cc.Cfg.Partition(time.Now())
		if err != nil {
			logger.Error("invalid partition", slog.String("error", err.Error()))
			return
		}
		if _, err := runner.Pipeline.Run(ctx, partition); err != nil {
			logger.Error("scheduled run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if addr := cc.Cfg.Schedule.MetricsAddr; addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           metricsRouter(m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("scheduler started", slog.Duration("interval", cc.Cfg.Schedule.Interval))
		scheduler.StartAsync()
		<-gctx.Done()

		logger.Info("stopping scheduler")
		scheduler.Stop()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to stop metrics server: %w", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// metricsRouter serves /metrics and a liveness probe.
func metricsRouter(m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
