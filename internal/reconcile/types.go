package reconcile

import (
	"log/slog"

	"github.com/evanofslack/instance-dns-sync/internal/provider"
)

type Action string

const (
	ActionUpdate            Action = "update"
	ActionSkipNoRecord      Action = "skip_no_record"
	ActionSkipUnchanged     Action = "skip_unchanged"
	ActionSkipIneligible    Action = "skip_ineligible"
	ActionSkipNoPublicIP    Action = "skip_no_public_ip"
	ActionDuplicateHostname Action = "duplicate_hostname"
	ActionSkipAmbiguous     Action = "skip_ambiguous_record"
)

// Decision is the outcome for one instance or hostname. Only ActionUpdate
// leads to a provider call.
type Decision struct {
	Action   Action
	Hostname string
	Instance string
	RecordID string
	OldIP    string
	NewIP    string
}

func (d Decision) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("action", string(d.Action))}
	if d.Hostname != "" {
		attrs = append(attrs, slog.String("hostname", d.Hostname))
	}
	if d.Instance != "" {
		attrs = append(attrs, slog.String("instance", d.Instance))
	}
	if d.RecordID != "" {
		attrs = append(attrs, slog.String("record_id", d.RecordID))
	}
	if d.OldIP != "" {
		attrs = append(attrs, slog.String("old_ip", d.OldIP))
	}
	if d.NewIP != "" {
		attrs = append(attrs, slog.String("new_ip", d.NewIP))
	}
	return slog.GroupValue(attrs...)
}

// Plan holds decisions sorted by hostname, then instance name.
type Plan struct {
	Decisions []Decision
	Desired   int
	Current   int
}

func (p Plan) Updates() []Decision {
	var out []Decision
	for _, d := range p.Decisions {
		if d.Action == ActionUpdate {
			out = append(out, d)
		}
	}
	return out
}

func (p Plan) Count(action Action) int {
	n := 0
	for _, d := range p.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}

type OperationResult struct {
	Decision Decision
	Record   provider.Record
	Err      error
}

type Results struct {
	Plan     Plan
	Updated  []OperationResult
	Failures []OperationResult
	DryRun   bool
}

// Partial reports whether at least one update failed.
func (r Results) Partial() bool {
	return len(r.Failures) > 0
}

type Summary struct {
	Desired     int
	Checked     int
	Updated     int
	WouldUpdate int
	Unchanged   int
	NoRecord    int
	Duplicates  int
	Ambiguous   int
	Ineligible  int
	Failed      int
	DryRun      bool
}

func (r Results) Summary() Summary {
	s := Summary{
		Desired:    r.Plan.Desired,
		Checked:    r.Plan.Current,
		Updated:    len(r.Updated),
		Unchanged:  r.Plan.Count(ActionSkipUnchanged),
		NoRecord:   r.Plan.Count(ActionSkipNoRecord),
		Duplicates: r.Plan.Count(ActionDuplicateHostname),
		Ambiguous:  r.Plan.Count(ActionSkipAmbiguous),
		Ineligible: r.Plan.Count(ActionSkipIneligible) + r.Plan.Count(ActionSkipNoPublicIP),
		Failed:     len(r.Failures),
		DryRun:     r.DryRun,
	}
	if r.DryRun {
		s.WouldUpdate = r.Plan.Count(ActionUpdate)
	}
	return s
}

// LogValue reports created and deleted as zero: neither operation exists.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("desired", s.Desired),
		slog.Int("records_checked", s.Checked),
		slog.Int("records_updated", s.Updated),
		slog.Int("records_would_update", s.WouldUpdate),
		slog.Int("records_unchanged", s.Unchanged),
		slog.Int("records_missing", s.NoRecord),
		slog.Int("duplicates", s.Duplicates),
		slog.Int("ambiguous", s.Ambiguous),
		slog.Int("ineligible", s.Ineligible),
		slog.Int("failures", s.Failed),
		slog.Int("records_created", 0),
		slog.Int("records_deleted", 0),
		slog.Bool("dry_run", s.DryRun),
	)
}
