package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/google/go-cmp/cmp"

	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
)

type apiRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

func envelope(result any, page, totalPages int) map[string]any {
	return map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
		"result_info": map[string]any{
			"page":        page,
			"per_page":    perPage,
			"total_pages": totalPages,
		},
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newTestProvider(t *testing.T, handler http.Handler, zoneID string) *CloudflareProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DNS{Token: "test-token", ZoneID: zoneID, MaxRetries: 1}
	p, err := New("aopstest.com", cfg, 5*time.Second, metrics.New(false),
		cloudflare.BaseURL(srv.URL),
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.UsingRateLimit(1000),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New("aopstest.com", config.DNS{}, time.Second, metrics.New(false)); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNewLooksUpZoneID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/zones", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "aopstest.com" {
			t.Errorf("zone name filter = %q", got)
		}
		writeJSON(t, w, http.StatusOK, envelope([]map[string]any{{"id": "zone-abc", "name": "aopstest.com"}}, 1, 1))
	})

	p := newTestProvider(t, mux, "")
	if p.zoneID != "zone-abc" {
		t.Errorf("zoneID = %q, want zone-abc", p.zoneID)
	}
}

func TestGetRecordsPaginatesAndFilters(t *testing.T) {
	page1 := make([]apiRecord, 0, perPage)
	for i := 0; i < perPage; i++ {
		page1 = append(page1, apiRecord{ID: "p1-" + strconv.Itoa(i), Type: "A", Name: "host" + strconv.Itoa(i) + ".aopstest.com", Content: "10.0.0.1", TTL: 60})
	}
	page2 := []apiRecord{
		{ID: "rec-last", Type: "A", Name: "last.aopstest.com", Content: "10.0.0.2", TTL: 120, Proxied: true},
		{ID: "rec-other", Type: "A", Name: "other-domain.com", Content: "10.0.0.3", TTL: 60},
	}

	var mu sync.Mutex
	var pages []string
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone-1/dns_records", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page"))
		mu.Unlock()

		if got := r.URL.Query().Get("type"); got != "A" {
			t.Errorf("type filter = %q, want A", got)
		}
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(t, w, http.StatusOK, envelope(page1, 1, 2))
		default:
			writeJSON(t, w, http.StatusOK, envelope(page2, 2, 2))
		}
	})

	p := newTestProvider(t, mux, "zone-1")
	records, err := p.GetRecords(context.Background(), "aopstest.com")
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}

	if diff := cmp.Diff([]string{"1", "2"}, pages); diff != "" {
		t.Errorf("pages requested (-want +got):\n%s", diff)
	}
	if len(records) != perPage+1 {
		t.Fatalf("got %d records, want %d", len(records), perPage+1)
	}
	last := records[len(records)-1]
	want := provider.Record{ID: "rec-last", Hostname: "last.aopstest.com", IP: "10.0.0.2", Type: "A", TTL: 120, Proxied: true}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("last record (-want +got):\n%s", diff)
	}
	if records[0].ID != "p1-0" {
		t.Errorf("provider order not preserved, first = %s", records[0].ID)
	}
}

func TestGetRecordsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone-1/dns_records", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 10000, "message": "Authentication error"}},
		})
	})

	p := newTestProvider(t, mux, "zone-1")
	_, err := p.GetRecords(context.Background(), "aopstest.com")
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestGetRecordsWrongZone(t *testing.T) {
	p := newTestProvider(t, http.NewServeMux(), "zone-1")
	if _, err := p.GetRecords(context.Background(), "example.org"); err == nil {
		t.Fatal("expected error for unmanaged zone")
	}
}

func TestUpdateRecordPatchesContentOnly(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone-1/dns_records/rec-1", func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(t, w, http.StatusOK, envelope(apiRecord{ID: "rec-1", Type: "A", Name: "api.aopstest.com", Content: "10.0.0.5", TTL: 60}, 1, 1))
	})

	p := newTestProvider(t, mux, "zone-1")
	rec, err := p.UpdateRecord(context.Background(), "aopstest.com", "rec-1", "10.0.0.5")
	if err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", gotMethod)
	}
	if gotBody["content"] != "10.0.0.5" {
		t.Errorf("content = %v", gotBody["content"])
	}
	if _, ok := gotBody["proxied"]; ok {
		t.Error("proxied must not be sent when not configured")
	}
	if rec.Hostname != "api.aopstest.com" || rec.IP != "10.0.0.5" {
		t.Errorf("returned record = %+v", rec)
	}
}

func TestUpdateRecordFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/zones/zone-1/dns_records/rec-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 81057, "message": "Record already exists."}},
		})
	})

	p := newTestProvider(t, mux, "zone-1")
	_, err := p.UpdateRecord(context.Background(), "aopstest.com", "rec-1", "10.0.0.5")
	if !errors.Is(err, provider.ErrUpdateFailed) {
		t.Fatalf("error = %v, want ErrUpdateFailed", err)
	}
	var ue *provider.UpdateError
	if !errors.As(err, &ue) || ue.RecordID != "rec-1" {
		t.Errorf("UpdateError = %+v", ue)
	}
}

func TestUpdateRecordRejectsInvalidIP(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { called = true })

	p := newTestProvider(t, mux, "zone-1")
	if _, err := p.UpdateRecord(context.Background(), "aopstest.com", "rec-1", "2001:db8::1"); !errors.Is(err, provider.ErrUpdateFailed) {
		t.Fatalf("error = %v, want ErrUpdateFailed", err)
	}
	if called {
		t.Error("no request should be sent for an invalid ip")
	}
}
