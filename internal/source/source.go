// Package source discovers compute instances that should have their public
// address published in DNS.
package source

import (
	"context"
	"errors"
	"strings"
)

// ErrDirectoryUnavailable is returned when the compute provider cannot be
// queried (timeout, auth failure, throttling).
var ErrDirectoryUnavailable = errors.New("instance directory unavailable")

// Directory lists eligible instances. Filtering is the directory's job: the
// reconciliation engine never sees an instance that fails a criterion.
type Directory interface {
	Name() string
	ListEligibleInstances(ctx context.Context) ([]Instance, error)
}

type Instance struct {
	ID       string
	Name     string
	PublicIP string
	Eligible bool
}

// Filter holds the eligibility criteria shared by all directories.
type Filter struct {
	TagKey   string
	TagValue string
}

// Candidate is the provider-neutral view of an instance before filtering.
type Candidate struct {
	ID       string
	Running  bool
	Tags     map[string]string
	PublicIP string
}

// Match returns the instance and true when c satisfies every criterion:
// running, control tag present with the configured value, a non-empty Name
// tag and a public IP.
func (f Filter) Match(c Candidate) (Instance, bool) {
	inst := Instance{ID: c.ID, Name: c.Tags["Name"], PublicIP: c.PublicIP}
	if !c.Running {
		return inst, false
	}
	value, ok := c.Tags[f.TagKey]
	if !ok || !strings.EqualFold(strings.TrimSpace(value), f.TagValue) {
		return inst, false
	}
	if strings.TrimSpace(inst.Name) == "" || inst.PublicIP == "" {
		return inst, false
	}
	inst.Eligible = true
	return inst, true
}
