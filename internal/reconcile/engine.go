// Package reconcile decides which DNS A records have drifted from their
// desired address and applies the minimal set of updates. It never creates or
// deletes records.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/hostname"
	"github.com/evanofslack/instance-dns-sync/internal/logger"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
	"github.com/evanofslack/instance-dns-sync/internal/source"
)

type Engine interface {
	Plan(instances []source.Instance, current []provider.Record) Plan
	PlanRestore(desired []provider.Record, current []provider.Record) Plan
	Apply(ctx context.Context, plan Plan) Results
	Reconcile(ctx context.Context, instances []source.Instance, current []provider.Record) Results
}

type engine struct {
	dnsProvider provider.Provider
	resolver    *hostname.Resolver
	zone        string
	dryRun      bool
	concurrency int
	metrics     *metrics.Metrics
}

func NewEngine(dp provider.Provider, resolver *hostname.Resolver, cfg config.Reconcile, metrics *metrics.Metrics) *engine {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &engine{
		dnsProvider: dp,
		resolver:    resolver,
		zone:        resolver.Domain(),
		dryRun:      cfg.DryRun,
		concurrency: concurrency,
		metrics:     metrics,
	}
}

func (e *engine) Reconcile(ctx context.Context, instances []source.Instance, current []provider.Record) Results {
	return e.Apply(ctx, e.Plan(instances, current))
}

type desired struct {
	hostname string
	instance string
	ip       string
}

// Plan maps each instance to its hostname and diffs it against current.
// Instances that resolve to the same hostname are all reported as duplicates
// and none of them is updated.
func (e *engine) Plan(instances []source.Instance, current []provider.Record) Plan {
	var decisions []Decision
	byKey := make(map[string][]desired)
	var keys []string

	for _, inst := range instances {
		switch {
		case !inst.Eligible:
			decisions = append(decisions, Decision{Action: ActionSkipIneligible, Instance: inst.Name})
			continue
		case inst.PublicIP == "":
			decisions = append(decisions, Decision{Action: ActionSkipNoPublicIP, Instance: inst.Name})
			continue
		}

		host := e.resolver.Resolve(inst.Name)
		key := hostname.Key(host)
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], desired{hostname: host, instance: inst.Name, ip: inst.PublicIP})
	}

	lookup := indexRecords(current)
	for _, key := range keys {
		group := byKey[key]
		if len(group) > 1 {
			for _, d := range group {
				decisions = append(decisions, Decision{
					Action:   ActionDuplicateHostname,
					Hostname: d.hostname,
					Instance: d.instance,
					NewIP:    d.ip,
				})
			}
			continue
		}
		d := group[0]
		decisions = append(decisions, diff(d, lookup[key]))
	}

	return e.finish(decisions, len(keys), len(current))
}

// PlanRestore applies the same diff rule with a snapshot as desired state.
// The snapshot is trusted to be deduplicated; a repeated hostname yields one
// decision per entry.
func (e *engine) PlanRestore(want []provider.Record, current []provider.Record) Plan {
	lookup := indexRecords(current)
	decisions := make([]Decision, 0, len(want))
	for _, r := range want {
		d := desired{hostname: r.Hostname, ip: r.IP}
		decisions = append(decisions, diff(d, lookup[hostname.Key(r.Hostname)]))
	}
	return e.finish(decisions, len(want), len(current))
}

func (e *engine) finish(decisions []Decision, nDesired, nCurrent int) Plan {
	slices.SortStableFunc(decisions, compareDecisions)
	for _, d := range decisions {
		e.metrics.IncDecision(string(d.Action))
	}
	return Plan{Decisions: decisions, Desired: nDesired, Current: nCurrent}
}

func diff(d desired, matches []provider.Record) Decision {
	dec := Decision{Hostname: d.hostname, Instance: d.instance, NewIP: d.ip}
	switch len(matches) {
	case 0:
		dec.Action = ActionSkipNoRecord
	case 1:
		rec := matches[0]
		dec.RecordID = rec.ID
		dec.OldIP = rec.IP
		if rec.IP == d.ip {
			dec.Action = ActionSkipUnchanged
		} else {
			dec.Action = ActionUpdate
		}
	default:
		dec.Action = ActionSkipAmbiguous
	}
	return dec
}

func indexRecords(records []provider.Record) map[string][]provider.Record {
	lookup := make(map[string][]provider.Record, len(records))
	for _, r := range records {
		if r.Type != "" && r.Type != "A" {
			continue
		}
		key := hostname.Key(r.Hostname)
		lookup[key] = append(lookup[key], r)
	}
	return lookup
}

func compareDecisions(a, b Decision) int {
	return cmp.Or(
		cmp.Compare(hostname.Key(a.Hostname), hostname.Key(b.Hostname)),
		cmp.Compare(a.Instance, b.Instance),
	)
}

// Apply executes every update in plan. A failed update is recorded and the
// rest continue. Results are in plan order regardless of completion order.
func (e *engine) Apply(ctx context.Context, plan Plan) Results {
	log := logger.FromContext(ctx)
	results := Results{Plan: plan, DryRun: e.dryRun}
	updates := plan.Updates()

	if e.dryRun {
		for _, d := range updates {
			log.Info("Dry run mode - would update record", "decision", d)
		}
		return results
	}

	outcomes := make([]OperationResult, len(updates))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, d := range updates {
		g.Go(func() error {
			log.Debug("Start execute update from plan", "decision", d)
			rec, err := e.dnsProvider.UpdateRecord(ctx, e.zone, d.RecordID, d.NewIP)
			outcomes[i] = OperationResult{Decision: d, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.Err == nil {
			log.Info("Updated record", "decision", o.Decision)
			results.Updated = append(results.Updated, o)
			continue
		}
		var ue *provider.UpdateError
		if errors.As(o.Err, &ue) && ue.Hostname == "" {
			ue.Hostname = o.Decision.Hostname
		}
		log.Error("Failed to update record", "decision", o.Decision, "error", o.Err)
		results.Failures = append(results.Failures, o)
	}
	return results
}
