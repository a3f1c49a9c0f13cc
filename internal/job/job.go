// Package job runs one reconciliation cycle: fetch instances and records,
// snapshot the records, plan, apply and report.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evanofslack/instance-dns-sync/internal/backup"
	"github.com/evanofslack/instance-dns-sync/internal/logger"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
	"github.com/evanofslack/instance-dns-sync/internal/reconcile"
	"github.com/evanofslack/instance-dns-sync/internal/source"
)

// ErrPartialSuccess is returned when the cycle completed but at least one
// update failed.
var ErrPartialSuccess = errors.New("partial success")

type Runner struct {
	directory   source.Directory
	dnsProvider provider.Provider
	engine      reconcile.Engine
	sinks       []backup.Sink
	metrics     *metrics.Metrics
	zone        string
	timeout     time.Duration
	now         func() time.Time
}

func New(dir source.Directory, dp provider.Provider, engine reconcile.Engine, zone string, timeout time.Duration, metrics *metrics.Metrics, sinks ...backup.Sink) *Runner {
	return &Runner{
		directory:   dir,
		dnsProvider: dp,
		engine:      engine,
		sinks:       sinks,
		metrics:     metrics,
		zone:        zone,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Run executes one cycle. Any fetch failure aborts before a snapshot is taken
// or an update is attempted.
func (r *Runner) Run(ctx context.Context) (reconcile.Results, error) {
	log := slog.Default().With("run_id", uuid.NewString())
	ctx = logger.WithLogger(ctx, log)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.Info("Starting sync operation", "zone", r.zone, "directory", r.directory.Name())
	start := time.Now()
	defer func() {
		r.metrics.SetSyncDuration(time.Since(start))
	}()

	instances, err := r.directory.ListEligibleInstances(ctx)
	if err != nil {
		r.metrics.IncSyncRun("failure")
		log.Error("Failed to list instances", "error", err)
		return reconcile.Results{}, fmt.Errorf("list instances: %w", err)
	}
	r.metrics.SetInstances(len(instances))

	records, err := r.dnsProvider.GetRecords(ctx, r.zone)
	if err != nil {
		r.metrics.IncSyncRun("failure")
		log.Error("Failed to get DNS records", "error", err)
		return reconcile.Results{}, fmt.Errorf("get records: %w", err)
	}
	r.metrics.SetRecords(len(records))
	log.Info("Fetched current state", "instances", len(instances), "records", len(records))

	r.backup(ctx, log, backup.New(r.zone, records, r.now()))

	plan := r.engine.Plan(instances, records)
	reconcile.LogDecisions(ctx, plan)
	results := r.engine.Apply(ctx, plan)

	summary := results.Summary()
	if results.Partial() {
		r.metrics.IncSyncRun("partial")
		log.Warn("Sync completed with failures", "summary", summary)
		return results, fmt.Errorf("%w: %d of %d updates failed", ErrPartialSuccess, len(results.Failures), len(plan.Updates()))
	}
	r.metrics.IncSyncRun("success")
	log.Info("Sync completed", "summary", summary)
	return results, nil
}

// backup failures are logged but never stop the cycle.
func (r *Runner) backup(ctx context.Context, log *slog.Logger, snap backup.Snapshot) {
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, snap); err != nil {
			log.Error("Failed to write backup", "error", err, "total_records", snap.TotalRecords())
		}
	}
}
