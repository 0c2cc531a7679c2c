// Package aws implements the snapwarden gateway on top of the EC2 API.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/yairfalse/snapwarden/providers"
)

const (
	// ProviderName is the registry key for this gateway
	ProviderName = "aws"

	// CreatedByTag marks snapshots created by snapwarden
	CreatedByTag = "CreatedBy"

	defaultPollMin = 5 * time.Second
	defaultPollMax = 30 * time.Second
)

func init() {
	providers.RegisterProvider(ProviderName, func(ctx context.Context, cfg providers.ProviderConfig) (providers.Gateway, error) {
		return New(ctx, cfg)
	})
}

// Provider implements providers.Gateway using AWS SDK v2
type Provider struct {
	client  EC2API
	region  string
	pollMin time.Duration
	pollMax time.Duration
}

// New loads the shared AWS configuration for the given profile and region
func New(ctx context.Context, cfg providers.ProviderConfig) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("load aws config: no region configured")
	}

	p := NewWithClient(ec2.NewFromConfig(awsCfg), awsCfg.Region)
	p.SetPolling(cfg.WaitPollMin, cfg.WaitPollMax)
	return p, nil
}

// NewWithClient builds a provider around an existing EC2 client
func NewWithClient(client EC2API, region string) *Provider {
	return &Provider{
		client:  client,
		region:  region,
		pollMin: defaultPollMin,
		pollMax: defaultPollMax,
	}
}

// SetPolling overrides the waiter poll bounds. Zero values keep the current setting.
func (p *Provider) SetPolling(minDelay, maxDelay time.Duration) {
	if minDelay > 0 {
		p.pollMin = minDelay
	}
	if maxDelay > 0 {
		p.pollMax = maxDelay
	}
	if p.pollMin > p.pollMax {
		p.pollMax = p.pollMin
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderName
}

// Region returns the AWS region
func (p *Provider) Region() string {
	return p.region
}
