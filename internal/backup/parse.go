package backup

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/evanofslack/instance-dns-sync/internal/provider"
)

// ErrMalformedSnapshot is returned for any structural violation. A restore
// never acts on a partially parsed snapshot.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

const (
	defaultType = "A"
	defaultTTL  = 60
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSON, FormatCSV:
		return f, nil
	case "structured":
		return FormatJSON, nil
	case "tabular":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown snapshot format %q", s)
}

// DetectFormat inspects the first non-space byte: JSON documents start with
// an object or array, anything else is treated as CSV.
func DetectFormat(content []byte) Format {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatCSV
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedSnapshot, fmt.Sprintf(format, args...))
}

// Parse decodes a snapshot in either encoding. The timestamp and domain are
// only available from the structured object form.
func Parse(content []byte, format Format) (Snapshot, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return Snapshot{}, malformed("empty input")
	}
	if format == "" || format == FormatAuto {
		format = DetectFormat(content)
	}

	switch format {
	case FormatJSON:
		return parseJSON(content)
	case FormatCSV:
		records, err := parseCSV(content)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Records: records}, nil
	}
	return Snapshot{}, fmt.Errorf("unknown snapshot format %q", format)
}

type parsedSnapshot struct {
	Timestamp    string          `json:"timestamp"`
	Domain       string          `json:"domain"`
	TotalRecords *int            `json:"total_records"`
	Records      *[]parsedRecord `json:"records"`
}

type parsedRecord struct {
	Hostname  *string `json:"hostname"`
	IPAddress *string `json:"ip_address"`
	RecordID  string  `json:"record_id"`
	Type      *string `json:"type"`
	TTL       *int    `json:"ttl"`
	Proxied   *bool   `json:"proxied"`
}

func parseJSON(content []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(content)

	if trimmed[0] == '[' {
		var recs []parsedRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return Snapshot{}, malformed("decode json array: %v", err)
		}
		records, err := toRecords(recs)
		return Snapshot{Records: records}, err
	}

	var ps parsedSnapshot
	if err := json.Unmarshal(trimmed, &ps); err != nil {
		return Snapshot{}, malformed("decode json: %v", err)
	}
	if ps.Records == nil {
		return Snapshot{}, malformed("missing records")
	}
	if ps.TotalRecords != nil && *ps.TotalRecords != len(*ps.Records) {
		return Snapshot{}, malformed("total_records is %d but %d records present", *ps.TotalRecords, len(*ps.Records))
	}

	records, err := toRecords(*ps.Records)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Domain: ps.Domain, Records: records}
	if ps.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, ps.Timestamp)
		if err != nil {
			return Snapshot{}, malformed("timestamp %q: %v", ps.Timestamp, err)
		}
		snap.Timestamp = ts.UTC()
	}
	return snap, nil
}

func toRecords(recs []parsedRecord) ([]provider.Record, error) {
	records := make([]provider.Record, 0, len(recs))
	for i, pr := range recs {
		if pr.Hostname == nil || *pr.Hostname == "" {
			return nil, malformed("record %d: missing hostname", i)
		}
		if pr.IPAddress == nil || *pr.IPAddress == "" {
			return nil, malformed("record %d (%s): missing ip_address", i, *pr.Hostname)
		}
		r := provider.Record{
			ID:       pr.RecordID,
			Hostname: *pr.Hostname,
			IP:       *pr.IPAddress,
			Type:     defaultType,
			TTL:      defaultTTL,
		}
		if pr.Type != nil {
			r.Type = *pr.Type
		}
		if pr.TTL != nil {
			r.TTL = *pr.TTL
		}
		if pr.Proxied != nil {
			r.Proxied = *pr.Proxied
		}
		r, err := normalize(i, r)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func parseCSV(content []byte) ([]provider.Record, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, malformed("read csv header: %v", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"hostname", "ip_address"} {
		if _, ok := cols[required]; !ok {
			return nil, malformed("csv header missing %s column", required)
		}
	}

	field := func(row []string, name string) (string, bool) {
		i, ok := cols[name]
		if !ok {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	records := []provider.Record{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed("read csv: %v", err)
		}

		r := provider.Record{Type: defaultType, TTL: defaultTTL}
		r.Hostname, _ = field(row, "hostname")
		r.IP, _ = field(row, "ip_address")
		r.ID, _ = field(row, "record_id")
		if r.Hostname == "" {
			return nil, malformed("line %d: missing hostname", line)
		}
		if r.IP == "" {
			return nil, malformed("line %d (%s): missing ip_address", line, r.Hostname)
		}
		if v, ok := field(row, "type"); ok && v != "" {
			r.Type = v
		}
		if v, ok := field(row, "ttl"); ok {
			ttl, err := strconv.Atoi(v)
			if err != nil {
				return nil, malformed("line %d (%s): ttl %q is not an integer", line, r.Hostname, v)
			}
			r.TTL = ttl
		}
		if v, ok := field(row, "proxied"); ok {
			proxied, err := strconv.ParseBool(v)
			if err != nil {
				return nil, malformed("line %d (%s): proxied %q is not a boolean", line, r.Hostname, v)
			}
			r.Proxied = proxied
		}
		r, err = normalize(line, r)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// normalize validates r as an A record and returns it in canonical form.
func normalize(pos int, r provider.Record) (provider.Record, error) {
	if r.TTL < 0 {
		return provider.Record{}, malformed("record %d (%s): negative ttl %d", pos, r.Hostname, r.TTL)
	}
	addr, err := provider.ToLibdns(r)
	if err != nil {
		return provider.Record{}, malformed("record %d (%s): %v", pos, r.Hostname, err)
	}
	return provider.FromLibdns(addr, r.ID, r.Proxied), nil
}
