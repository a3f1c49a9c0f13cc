package ec2

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awsec2 "github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"

	"github.com/evanofslack/instance-dns-sync/internal/metrics"
	"github.com/evanofslack/instance-dns-sync/internal/source"
)

const providerName = "aws"

type Directory struct {
	api     ec2iface.EC2API
	filter  source.Filter
	metrics *metrics.Metrics
}

// New creates an EC2 directory. An empty region falls back to the SDK's
// default resolution (AWS_REGION, shared config).
func New(region string, filter source.Filter, timeout time.Duration, metrics *metrics.Metrics) (*Directory, error) {
	cfg := aws.Config{HTTPClient: &http.Client{Timeout: timeout}}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	slog.Info("Initialized EC2 client", "region", aws.StringValue(sess.Config.Region))
	return NewWithAPI(awsec2.New(sess), filter, metrics), nil
}

func NewWithAPI(api ec2iface.EC2API, filter source.Filter, metrics *metrics.Metrics) *Directory {
	return &Directory{api: api, filter: filter, metrics: metrics}
}

func (d *Directory) Name() string {
	return providerName
}

func (d *Directory) ListEligibleInstances(ctx context.Context) ([]source.Instance, error) {
	input := &awsec2.DescribeInstancesInput{
		Filters: []*awsec2.Filter{
			{
				Name:   aws.String("instance-state-name"),
				Values: aws.StringSlice([]string{awsec2.InstanceStateNameRunning}),
			},
			{
				Name:   aws.String("tag:" + d.filter.TagKey),
				Values: aws.StringSlice([]string{d.filter.TagValue}),
			},
		},
	}

	var instances []source.Instance
	pages := 0
	err := d.api.DescribeInstancesPagesWithContext(ctx, input, func(page *awsec2.DescribeInstancesOutput, lastPage bool) bool {
		pages++
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				c := toCandidate(inst)
				match, ok := d.filter.Match(c)
				if !ok {
					if match.Name != "" && match.PublicIP == "" {
						slog.Warn("Instance has no public IP", "instance", match.Name, "instance_id", c.ID)
					} else {
						slog.Debug("Skipping ineligible instance", "instance", match.Name, "instance_id", c.ID)
					}
					continue
				}
				instances = append(instances, match)
			}
		}
		return true
	})
	if err != nil {
		d.metrics.IncDirectoryRequest(providerName, false)
		return nil, fmt.Errorf("%w: describe ec2 instances: %w", source.ErrDirectoryUnavailable, err)
	}

	d.metrics.IncDirectoryRequest(providerName, true)
	slog.Info("Found instances with public IPs", "provider", providerName, "count", len(instances), "pages", pages)
	return instances, nil
}

func toCandidate(inst *awsec2.Instance) source.Candidate {
	tags := make(map[string]string, len(inst.Tags))
	for _, tag := range inst.Tags {
		tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
	}
	running := inst.State != nil && aws.StringValue(inst.State.Name) == awsec2.InstanceStateNameRunning
	return source.Candidate{
		ID:       aws.StringValue(inst.InstanceId),
		Running:  running,
		Tags:     tags,
		PublicIP: aws.StringValue(inst.PublicIpAddress),
	}
}
