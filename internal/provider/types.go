// Package provider talks to external model APIs. Argus only ever needs
// one operation from a provider, a single-turn completion, so the
// surface is one interface with a health probe. Which provider and
// model serve a given stage is the routing table's decision, not ours.
package provider

import "context"

// CompletionRequest is a single-turn model invocation.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse carries the reply text and the token usage the
// session budget charges for.
type CompletionResponse struct {
	Text       string
	TokensUsed int
	Model      string
}

// Client is one configured provider endpoint.
type Client interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Probe checks reachability without consuming model quota.
	Probe(ctx context.Context) error
}

// Config holds one provider's connection settings. RatePerSecond and
// Burst feed the client-side limiter; a zero rate defers to the
// ratecontrol table's per-provider ceilings.
type Config struct {
	Name          string  `mapstructure:"name" yaml:"name"`
	BaseURL       string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSecs   int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" yaml:"burst"`
	MaxRetries    int     `mapstructure:"max_retries" yaml:"max_retries"`
}
