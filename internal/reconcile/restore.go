package reconcile

import (
	"github.com/evanofslack/instance-dns-sync/internal/hostname"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
)

type VerificationStatus string

const (
	VerifyConfirmed       VerificationStatus = "confirmed"
	VerifyStillMismatched VerificationStatus = "still_mismatched"
	VerifyRecordMissing   VerificationStatus = "record_missing"
)

type VerificationOutcome struct {
	Status   VerificationStatus
	Hostname string
	RecordID string
	Expected string
	Actual   string
}

// Verify checks each applied update against state fetched after Apply.
// Mismatches are reported only; nothing is retried.
func Verify(results Results, live []provider.Record) []VerificationOutcome {
	byID := make(map[string]provider.Record, len(live))
	for _, r := range live {
		byID[r.ID] = r
	}
	lookup := indexRecords(live)

	outcomes := make([]VerificationOutcome, 0, len(results.Updated))
	for _, op := range results.Updated {
		d := op.Decision
		out := VerificationOutcome{Hostname: d.Hostname, RecordID: d.RecordID, Expected: d.NewIP}

		rec, ok := byID[d.RecordID]
		if !ok || hostname.Key(rec.Hostname) != hostname.Key(d.Hostname) {
			matches := lookup[hostname.Key(d.Hostname)]
			if len(matches) == 0 {
				out.Status = VerifyRecordMissing
				outcomes = append(outcomes, out)
				continue
			}
			rec = matches[0]
		}

		out.RecordID = rec.ID
		out.Actual = rec.IP
		if rec.IP == d.NewIP {
			out.Status = VerifyConfirmed
		} else {
			out.Status = VerifyStillMismatched
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Verified reports whether every outcome is confirmed.
func Verified(outcomes []VerificationOutcome) bool {
	for _, o := range outcomes {
		if o.Status != VerifyConfirmed {
			return false
		}
	}
	return true
}
