package audio

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
)

// DefaultSampleRate is the speaker mixing rate.
const DefaultSampleRate = 44100

type speakerConfig struct {
	sampleRate int
	http       *resty.Client
	interval   time.Duration
}

// SpeakerOption configures the speaker output.
type SpeakerOption func(*speakerConfig)

// WithSampleRate sets the speaker mixing rate.
func WithSampleRate(rate int) SpeakerOption {
	return func(c *speakerConfig) {
		c.sampleRate = rate
	}
}

// WithHTTPClient sets the client used to download sources.
func WithHTTPClient(client *resty.Client) SpeakerOption {
	return func(c *speakerConfig) {
		c.http = client
	}
}

func newSpeakerConfig(opts []SpeakerOption) speakerConfig {
	cfg := speakerConfig{
		sampleRate: DefaultSampleRate,
		interval:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.http == nil {
		cfg.http = resty.New().SetTimeout(2 * time.Minute)
	}
	return cfg
}

// fetch downloads a source fully into memory.
func (c speakerConfig) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode())
	}
	return resp.Bytes(), nil
}
