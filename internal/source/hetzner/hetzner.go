package hetzner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/source"
)

const providerName = "hetzner"

// Directory lists Hetzner Cloud servers. Labels play the role of tags and
// the server name is used as the Name tag.
type Directory struct {
	client  *hcloud.Client
	filter  source.Filter
	metrics *metrics.Metrics
}

// New creates a Directory. Default options are applied first so callers can
// override them, e.g. the endpoint in tests.
func New(token string, filter source.Filter, timeout time.Duration, metrics *metrics.Metrics, opts ...hcloud.ClientOption) (*Directory, error) {
	if token == "" {
		return nil, fmt.Errorf("hetzner API token required")
	}
	defaults := []hcloud.ClientOption{
		hcloud.WithToken(token),
		hcloud.WithApplication("instance-dns-sync", "1.0.0"),
		hcloud.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	return &Directory{
		client:  hcloud.NewClient(append(defaults, opts...)...),
		filter:  filter,
		metrics: metrics,
	}, nil
}

func (d *Directory) Name() string {
	return providerName
}

func (d *Directory) ListEligibleInstances(ctx context.Context) ([]source.Instance, error) {
	opts := hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: d.filter.TagKey + "=" + d.filter.TagValue},
		Status:   []hcloud.ServerStatus{hcloud.ServerStatusRunning},
	}

	servers, err := d.client.Server.AllWithOpts(ctx, opts)
	if err != nil {
		d.metrics.IncDirectoryRequest(providerName, false)
		return nil, fmt.Errorf("%w: list hetzner servers: %w", source.ErrDirectoryUnavailable, err)
	}

	instances := make([]source.Instance, 0, len(servers))
	for _, s := range servers {
		inst, ok := d.filter.Match(toCandidate(s))
		if !ok {
			slog.Debug("Skipping ineligible server", "instance", s.Name, "instance_id", inst.ID, "status", s.Status)
			continue
		}
		instances = append(instances, inst)
	}

	d.metrics.IncDirectoryRequest(providerName, true)
	slog.Info("Found instances with public IPs", "provider", providerName, "count", len(instances))
	return instances, nil
}

func toCandidate(s *hcloud.Server) source.Candidate {
	tags := make(map[string]string, len(s.Labels)+1)
	for k, v := range s.Labels {
		tags[k] = v
	}
	tags["Name"] = s.Name

	c := source.Candidate{
		ID:      strconv.FormatInt(s.ID, 10),
		Running: s.Status == hcloud.ServerStatusRunning,
		Tags:    tags,
	}
	if !s.PublicNet.IPv4.IsUnspecified() {
		c.PublicIP = s.PublicNet.IPv4.IP.String()
	}
	return c
}
