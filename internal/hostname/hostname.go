// Package hostname maps instance names to the DNS names they are expected to
// publish under the managed domain.
package hostname

import (
	"strings"

	"github.com/miekg/dns"
)

// Resolver is pure: it never performs network I/O and never fails.
type Resolver struct {
	domain string
	suffix string
}

func New(domain, suffix string) *Resolver {
	return &Resolver{
		domain: strings.TrimSuffix(domain, "."),
		suffix: suffix,
	}
}

func (r *Resolver) Domain() string {
	return r.domain
}

// Resolve strips at most one trailing suffix from name and appends the
// managed domain. A name that is empty after stripping resolves to the
// domain itself.
func (r *Resolver) Resolve(name string) string {
	label := name
	if r.suffix != "" {
		label = strings.TrimSuffix(name, r.suffix)
	}
	if label == "" {
		return r.domain
	}
	return label + "." + r.domain
}

// Key is the lookup key for a hostname: lower case and fully qualified, so
// that "API.example.com" and "api.example.com." compare equal.
func Key(name string) string {
	return dns.CanonicalName(name)
}

// InZone reports whether name is the domain or one of its subdomains.
func InZone(name, domain string) bool {
	return dns.IsSubDomain(Key(domain), Key(name))
}
