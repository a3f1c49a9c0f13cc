package hostname

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	r := New("aopstest.com", "-server")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "suffix stripped", in: "api-server", want: "api.aopstest.com"},
		{name: "no suffix", in: "orphan", want: "orphan.aopstest.com"},
		{name: "strips only one suffix", in: "web-server-server", want: "web-server.aopstest.com"},
		{name: "suffix in the middle is kept", in: "my-server-01", want: "my-server-01.aopstest.com"},
		{name: "name is only the suffix", in: "-server", want: "aopstest.com"},
		{name: "empty name", in: "", want: "aopstest.com"},
		{name: "case preserved", in: "Build-server", want: "Build.aopstest.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.in)
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !strings.HasSuffix(got, r.Domain()) {
				t.Errorf("Resolve(%q) = %q does not end with the managed domain", tt.in, got)
			}
		})
	}
}

func TestResolveTrailingDotDomain(t *testing.T) {
	r := New("aopstest.com.", "-server")
	if got := r.Resolve("db-server"); got != "db.aopstest.com" {
		t.Errorf("Resolve = %q, want db.aopstest.com", got)
	}
}

func TestResolveWithoutSuffix(t *testing.T) {
	r := New("aopstest.com", "")
	if got := r.Resolve("api-server"); got != "api-server.aopstest.com" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestKey(t *testing.T) {
	if Key("API.AopsTest.com") != Key("api.aopstest.com.") {
		t.Errorf("keys differ: %q vs %q", Key("API.AopsTest.com"), Key("api.aopstest.com."))
	}
}

func TestInZone(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"api.aopstest.com", true},
		{"API.AOPSTEST.COM", true},
		{"aopstest.com", true},
		{"deep.api.aopstest.com", true},
		{"other-domain.com", false},
		{"notaopstest.com", false},
	}
	for _, tt := range tests {
		if got := InZone(tt.name, "aopstest.com"); got != tt.want {
			t.Errorf("InZone(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
