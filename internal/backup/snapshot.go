// Package backup captures the current DNS record set as a snapshot, encodes
// it as JSON or CSV for audit and disaster recovery, and parses it back.
package backup

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/evanofslack/instance-dns-sync/internal/provider"
)

// Header is the fixed first line of the tabular form.
var Header = []string{"hostname", "ip_address", "record_id", "type", "ttl", "proxied"}

type Snapshot struct {
	Timestamp time.Time
	Domain    string
	Records   []provider.Record
}

// New copies records so later changes to the caller's slice do not leak into
// the snapshot. Provider order is preserved.
func New(domain string, records []provider.Record, now time.Time) Snapshot {
	recs := make([]provider.Record, len(records))
	copy(recs, records)
	return Snapshot{
		Timestamp: now.UTC(),
		Domain:    domain,
		Records:   recs,
	}
}

// TotalRecords is always derived from Records.
func (s Snapshot) TotalRecords() int {
	return len(s.Records)
}

type jsonSnapshot struct {
	Timestamp    string       `json:"timestamp"`
	Domain       string       `json:"domain"`
	TotalRecords int          `json:"total_records"`
	Records      []jsonRecord `json:"records"`
}

type jsonRecord struct {
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
	RecordID  string `json:"record_id"`
	Type      string `json:"type"`
	TTL       int    `json:"ttl"`
	Proxied   bool   `json:"proxied"`
}

func ToStructured(s Snapshot) (string, error) {
	out := jsonSnapshot{
		Timestamp:    s.Timestamp.UTC().Format(time.RFC3339Nano),
		Domain:       s.Domain,
		TotalRecords: s.TotalRecords(),
		Records:      make([]jsonRecord, 0, len(s.Records)),
	}
	for _, r := range s.Records {
		out.Records = append(out.Records, jsonRecord{
			Hostname:  r.Hostname,
			IPAddress: r.IP,
			RecordID:  r.ID,
			Type:      r.Type,
			TTL:       r.TTL,
			Proxied:   r.Proxied,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot json: %w", err)
	}
	return string(b), nil
}

func ToTabular(s Snapshot) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return "", fmt.Errorf("encode snapshot csv header: %w", err)
	}
	for _, r := range s.Records {
		row := []string{
			r.Hostname,
			r.IP,
			r.ID,
			r.Type,
			strconv.Itoa(r.TTL),
			strconv.FormatBool(r.Proxied),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("encode snapshot csv row %s: %w", r.Hostname, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("encode snapshot csv: %w", err)
	}
	return buf.String(), nil
}
