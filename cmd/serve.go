package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanofslack/instance-dns-sync/internal/job"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
)

const defaultMetricsAddress = ":9090"

// ServeCommand returns the "serve" subcommand.
func ServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Reconcile on an interval and expose metrics",
		Long: `Run reconciliation cycles every syncInterval until interrupted. Cycles run
one after another, never concurrently. Metrics are served on /metrics and
liveness on /healthz.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	m := metrics.New(true)
	runner, archive, err := newRunner(cfg, m)
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	var healthy atomic.Bool
	healthy.Store(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "last cycle failed", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	addr := cfg.Metrics.Address
	if addr == "" {
		addr = defaultMetricsAddress
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Starting instance-dns-sync service", "interval", cfg.SyncInterval, "domain", cfg.Domain)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go runSyncLoop(ctx, wg, runner, &healthy, cfg.SyncInterval)

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("Service shutdown complete")
	return nil
}

// runSyncLoop runs a cycle immediately and then on every tick. A tick that
// fires while a cycle is still running is dropped by the ticker.
func runSyncLoop(ctx context.Context, wg *sync.WaitGroup, runner *job.Runner, healthy *atomic.Bool, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := runner.Run(ctx)
		if err != nil && !errors.Is(err, job.ErrPartialSuccess) {
			slog.Error("Sync operation failed", "error", err)
		}
		healthy.Store(err == nil || errors.Is(err, job.ErrPartialSuccess))

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			slog.Info("Stopping sync loop")
			return
		}
	}
}

