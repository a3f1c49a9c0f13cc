package provider

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/libdns/libdns"
)

var (
	// ErrProviderUnavailable is returned when current DNS state cannot be read.
	ErrProviderUnavailable = errors.New("dns provider unavailable")
	// ErrUpdateFailed is returned when a single record update is rejected.
	ErrUpdateFailed = errors.New("dns record update failed")
)

// Provider is deliberately update-only: there is no way to create or delete
// a record through it.
type Provider interface {
	GetRecords(ctx context.Context, zone string) ([]Record, error)
	UpdateRecord(ctx context.Context, zone string, id string, ip string) (Record, error)
}

type Record struct {
	ID       string
	Hostname string
	IP       string
	Type     string
	TTL      int
	Proxied  bool
}

type UpdateError struct {
	RecordID string
	Hostname string
	IP       string
	Err      error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update %s (%s) to %s: %v", e.Hostname, e.RecordID, e.IP, e.Err)
}

func (e *UpdateError) Unwrap() []error {
	return []error{ErrUpdateFailed, e.Err}
}

// ToLibdns validates r as an IPv4 A record.
func ToLibdns(r Record) (libdns.Address, error) {
	if r.Type != "A" {
		return libdns.Address{}, fmt.Errorf("unsupported record type %q", r.Type)
	}
	if r.Hostname == "" {
		return libdns.Address{}, errors.New("empty hostname")
	}
	addr, err := ParseIPv4(r.IP)
	if err != nil {
		return libdns.Address{}, err
	}
	return libdns.Address{
		Name: r.Hostname,
		IP:   addr,
		TTL:  time.Duration(r.TTL) * time.Second,
	}, nil
}

func ParseIPv4(ip string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("fail parse ip addr %s, err=%w", ip, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("ip addr %s is not ipv4", ip)
	}
	return addr, nil
}

// FromLibdns converts a libdns record back, keeping provider-only fields
// (id, proxied) from the caller.
func FromLibdns(r libdns.Record, id string, proxied bool) Record {
	rr := r.RR()
	return Record{
		ID:       id,
		Hostname: rr.Name,
		IP:       rr.Data,
		Type:     rr.Type,
		TTL:      int(rr.TTL / time.Second),
		Proxied:  proxied,
	}
}
