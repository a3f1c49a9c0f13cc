package provider

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLibdnsRoundTrip(t *testing.T) {
	in := Record{ID: "rec-1", Hostname: "api.aopstest.com", IP: "10.0.0.5", Type: "A", TTL: 60, Proxied: true}

	addr, err := ToLibdns(in)
	if err != nil {
		t.Fatalf("ToLibdns: %v", err)
	}
	out := FromLibdns(addr, in.ID, in.Proxied)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToLibdnsRejects(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"not an ip", Record{Hostname: "a.aopstest.com", IP: "nope", Type: "A"}},
		{"ipv6", Record{Hostname: "a.aopstest.com", IP: "2001:db8::1", Type: "A"}},
		{"cname", Record{Hostname: "a.aopstest.com", IP: "10.0.0.1", Type: "CNAME"}},
		{"no hostname", Record{IP: "10.0.0.1", Type: "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ToLibdns(tt.rec); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestUpdateErrorUnwrap(t *testing.T) {
	cause := errors.New("403 forbidden")
	err := error(&UpdateError{RecordID: "rec-1", Hostname: "api.aopstest.com", IP: "10.0.0.5", Err: cause})

	if !errors.Is(err, ErrUpdateFailed) {
		t.Error("expected errors.Is(err, ErrUpdateFailed)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	var ue *UpdateError
	if !errors.As(err, &ue) || ue.Hostname != "api.aopstest.com" {
		t.Errorf("errors.As = %+v", ue)
	}
}
