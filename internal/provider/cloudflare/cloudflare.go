package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/evanofslack/instance-dns-sync/internal/config"
	"github.com/evanofslack/instance-dns-sync/internal/hostname"
	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/provider"
)

const perPage = 100

type CloudflareProvider struct {
	client  *cloudflare.API
	metrics *metrics.Metrics
	zone    string
	zoneID  string
	ttl     int
	proxied *bool
}

// New builds a client for the single managed zone. The zone id is looked up
// by name unless it is configured.
func New(domain string, cfg config.DNS, timeout time.Duration, metrics *metrics.Metrics, opts ...cloudflare.Option) (*CloudflareProvider, error) {
	token := cfg.Token
	if token == "" {
		return nil, fmt.Errorf("cloudflare API token required")
	}

	defaults := []cloudflare.Option{
		cloudflare.HTTPClient(&http.Client{Timeout: timeout}),
		cloudflare.UsingRetryPolicy(cfg.MaxRetries, 1, 10),
	}
	client, err := cloudflare.NewWithAPIToken(token, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	zone := strings.TrimSuffix(domain, ".")
	zoneID := cfg.ZoneID
	if zoneID == "" {
		id, err := client.ZoneIDByName(zone)
		if err != nil {
			metrics.IncDNSRequest("read", false)
			return nil, fmt.Errorf("%w: get zone ID for %s: %w", provider.ErrProviderUnavailable, zone, err)
		}
		metrics.IncDNSRequest("read", true)
		slog.Info("Found zone ID", "zone", zone, "zone_id", id)
		zoneID = id
	}

	return &CloudflareProvider{
		client:  client,
		metrics: metrics,
		zone:    zone,
		zoneID:  zoneID,
		ttl:     cfg.TTL,
		proxied: cfg.Proxied,
	}, nil
}

func (p *CloudflareProvider) GetRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	slog.Info("Getting DNS records", "zone", zone)
	start := time.Now()

	if err := p.checkZone(zone); err != nil {
		return nil, err
	}

	var all []cloudflare.DNSRecord
	page := 1
	for {
		params := cloudflare.ListDNSRecordsParams{
			Type: "A",
			ResultInfo: cloudflare.ResultInfo{
				Page:    page,
				PerPage: perPage,
			},
		}

		records, resultInfo, err := p.client.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(p.zoneID), params)
		if err != nil {
			p.metrics.IncDNSRequest("read", false)
			return nil, fmt.Errorf("%w: list DNS records page %d: %w", provider.ErrProviderUnavailable, page, err)
		}

		all = append(all, records...)
		if resultInfo == nil || page >= resultInfo.TotalPages || len(records) < perPage {
			break
		}
		page++
	}

	result := make([]provider.Record, 0, len(all))
	for _, r := range all {
		if r.Type != "A" {
			continue
		}
		if !hostname.InZone(r.Name, p.zone) {
			slog.Debug("Ignoring record outside managed zone", "name", r.Name, "zone", p.zone)
			continue
		}
		result = append(result, toRecord(r))
	}

	p.metrics.IncDNSRequest("read", true)
	slog.Debug("Retrieved DNS records", "zone", zone, "count", len(result), "pages", page, "duration", time.Since(start))
	return result, nil
}

// UpdateRecord patches the content of an existing record. TTL and proxied are
// only sent when configured, otherwise the record keeps its current values.
func (p *CloudflareProvider) UpdateRecord(ctx context.Context, zone string, id string, ip string) (provider.Record, error) {
	slog.Info("Updating DNS record", "zone", zone, "record_id", id, "ip", ip)
	start := time.Now()

	if err := p.checkZone(zone); err != nil {
		return provider.Record{}, err
	}
	if _, err := provider.ParseIPv4(ip); err != nil {
		return provider.Record{}, &provider.UpdateError{RecordID: id, IP: ip, Err: err}
	}

	params := cloudflare.UpdateDNSRecordParams{
		ID:      id,
		Type:    "A",
		Content: ip,
		TTL:     p.ttl,
		Proxied: p.proxied,
	}

	updated, err := p.client.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(p.zoneID), params)
	if err != nil {
		p.metrics.IncDNSRequest("update", false)
		return provider.Record{}, &provider.UpdateError{RecordID: id, IP: ip, Err: err}
	}

	p.metrics.IncDNSRequest("update", true)
	slog.Debug("Updated DNS record", "zone", zone, "record_id", id, "name", updated.Name, "duration", time.Since(start))
	return toRecord(updated), nil
}

func (p *CloudflareProvider) checkZone(zone string) error {
	if !strings.EqualFold(strings.TrimSuffix(zone, "."), p.zone) {
		return fmt.Errorf("zone %s is not the managed zone %s", zone, p.zone)
	}
	return nil
}

func toRecord(r cloudflare.DNSRecord) provider.Record {
	proxied := false
	if r.Proxied != nil {
		proxied = *r.Proxied
	}
	return provider.Record{
		ID:       r.ID,
		Hostname: r.Name,
		IP:       r.Content,
		Type:     r.Type,
		TTL:      r.TTL,
		Proxied:  proxied,
	}
}
