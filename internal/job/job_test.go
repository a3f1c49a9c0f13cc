package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/evanofslack/instance-dns-sync/internal/backup"
	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/hostname"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
	"github.com/evanofslack/instance-dns-sync/internal/reconcile"
	"github.com/evanofslack/instance-dns-sync/internal/source"
)

type MockDirectory struct {
	instances []source.Instance
	err       error
}

func (m *MockDirectory) Name() string { return "mock" }
func (m *MockDirectory) ListEligibleInstances(ctx context.Context) ([]source.Instance, error) {
	return m.instances, m.err
}

type MockProvider struct {
	records []provider.Record
	getErr  error
	fail    map[string]bool
	updates []string
}

func (m *MockProvider) GetRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	return m.records, m.getErr
}

func (m *MockProvider) UpdateRecord(ctx context.Context, zone string, id string, ip string) (provider.Record, error) {
	m.updates = append(m.updates, id+"="+ip)
	if m.fail[id] {
		return provider.Record{}, &provider.UpdateError{RecordID: id, IP: ip, Err: errors.New("boom")}
	}
	return provider.Record{ID: id, IP: ip, Type: "A"}, nil
}

type MockSink struct {
	snapshots []backup.Snapshot
	err       error
}

func (m *MockSink) Write(ctx context.Context, s backup.Snapshot) error {
	m.snapshots = append(m.snapshots, s)
	return m.err
}

func newRunner(dir source.Directory, dp provider.Provider, sinks ...backup.Sink) *Runner {
	m := metrics.New(false)
	engine := reconcile.NewEngine(dp, hostname.New("aopstest.com", "-server"), config.Reconcile{}, m)
	r := New(dir, dp, engine, "aopstest.com", time.Minute, m, sinks...)
	r.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRunUpdatesDriftedRecords(t *testing.T) {
	dir := &MockDirectory{instances: []source.Instance{
		{ID: "i-1", Name: "api-server", PublicIP: "10.0.0.5", Eligible: true},
		{ID: "i-2", Name: "orphan", PublicIP: "10.0.0.9", Eligible: true},
	}}
	current := []provider.Record{{ID: "rec-1", Hostname: "api.aopstest.com", IP: "10.0.0.1", Type: "A", TTL: 60}}
	dp := &MockProvider{records: current}
	sink := &MockSink{}

	results, err := newRunner(dir, dp, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"rec-1=10.0.0.5"}, dp.updates); diff != "" {
		t.Errorf("updates (-want +got):\n%s", diff)
	}
	if len(results.Updated) != 1 {
		t.Errorf("updated = %d, want 1", len(results.Updated))
	}

	if len(sink.snapshots) != 1 {
		t.Fatalf("sink received %d snapshots, want 1", len(sink.snapshots))
	}
	snap := sink.snapshots[0]
	if diff := cmp.Diff(current, snap.Records); diff != "" {
		t.Errorf("snapshot should hold pre-apply state (-want +got):\n%s", diff)
	}
	if snap.Domain != "aopstest.com" || snap.TotalRecords() != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRunFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		dirErr  error
		getErr  error
		wantErr error
	}{
		{
			name:    "directory unavailable",
			dirErr:  source.ErrDirectoryUnavailable,
			wantErr: source.ErrDirectoryUnavailable,
		},
		{
			name:    "dns provider unavailable",
			getErr:  provider.ErrProviderUnavailable,
			wantErr: provider.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &MockDirectory{
				instances: []source.Instance{{ID: "i-1", Name: "api-server", PublicIP: "10.0.0.5", Eligible: true}},
				err:       tt.dirErr,
			}
			dp := &MockProvider{
				records: []provider.Record{{ID: "rec-1", Hostname: "api.aopstest.com", IP: "10.0.0.1", Type: "A"}},
				getErr:  tt.getErr,
			}
			sink := &MockSink{}

			_, err := newRunner(dir, dp, sink).Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if len(dp.updates) != 0 {
				t.Errorf("updates attempted after fetch failure: %v", dp.updates)
			}
			if len(sink.snapshots) != 0 {
				t.Error("snapshot written after fetch failure")
			}
		})
	}
}

func TestRunPartialSuccess(t *testing.T) {
	dir := &MockDirectory{instances: []source.Instance{
		{ID: "i-1", Name: "a-server", PublicIP: "10.0.0.5", Eligible: true},
		{ID: "i-2", Name: "b-server", PublicIP: "10.0.0.6", Eligible: true},
	}}
	dp := &MockProvider{
		records: []provider.Record{
			{ID: "rec-a", Hostname: "a.aopstest.com", IP: "10.0.0.1", Type: "A"},
			{ID: "rec-b", Hostname: "b.aopstest.com", IP: "10.0.0.1", Type: "A"},
		},
		fail: map[string]bool{"rec-a": true},
	}

	results, err := newRunner(dir, dp).Run(context.Background())
	if !errors.Is(err, ErrPartialSuccess) {
		t.Fatalf("error = %v, want ErrPartialSuccess", err)
	}
	if len(dp.updates) != 2 {
		t.Errorf("failure must not stop remaining updates: %v", dp.updates)
	}
	if len(results.Updated) != 1 || len(results.Failures) != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestRunSinkFailureIsNotFatal(t *testing.T) {
	dir := &MockDirectory{instances: []source.Instance{{ID: "i-1", Name: "api-server", PublicIP: "10.0.0.5", Eligible: true}}}
	dp := &MockProvider{records: []provider.Record{{ID: "rec-1", Hostname: "api.aopstest.com", IP: "10.0.0.1", Type: "A"}}}
	broken := &MockSink{err: errors.New("disk full")}
	ok := &MockSink{}

	if _, err := newRunner(dir, dp, broken, ok).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ok.snapshots) != 1 {
		t.Error("second sink skipped after first failed")
	}
	if len(dp.updates) != 1 {
		t.Errorf("updates = %v", dp.updates)
	}
}
