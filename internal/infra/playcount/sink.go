// Package playcount records track plays without blocking playback.
package playcount

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

// Sink receives one increment per track play.
type Sink interface {
	Increment(ctx context.Context, trackID string) error
}

// Counter is a sink that can report totals.
type Counter interface {
	Sink
	Count(ctx context.Context, trackID string) (int64, error)
}

// ErrUnsupported is returned by Count on sinks that cannot report totals.
var ErrUnsupported = errors.New("play counts not available")

// DefaultKeyPrefix prefixes the Redis counter keys.
const DefaultKeyPrefix = "hymnal:plays:"

// RedisSink counts plays with INCR on one key per track.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink creates a sink on client.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, prefix: DefaultKeyPrefix}
}

// Key returns the counter key of a track.
func (s *RedisSink) Key(trackID string) string {
	return s.prefix + trackID
}

// Increment implements Sink.
func (s *RedisSink) Increment(ctx context.Context, trackID string) error {
	return s.client.WithContext(ctx).Incr(s.Key(trackID)).Err()
}

// Count implements Counter.
func (s *RedisSink) Count(ctx context.Context, trackID string) (int64, error) {
	n, err := s.client.WithContext(ctx).Get(s.Key(trackID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// HTTPSink posts each play to a remote service at {base}/tracks/{id}/plays.
type HTTPSink struct {
	client *resty.Client
}

type countResponse struct {
	Count int64 `json:"count"`
}

// NewHTTPSink creates a sink against baseURL.
func NewHTTPSink(baseURL string, client *resty.Client) *HTTPSink {
	if client == nil {
		client = resty.New()
	}
	client.SetBaseURL(baseURL)
	return &HTTPSink{client: client}
}

// Increment implements Sink.
func (s *HTTPSink) Increment(ctx context.Context, trackID string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", trackID).
		Post("/tracks/{id}/plays")
	if err != nil {
		return fmt.Errorf("post play for %s: %w", trackID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post play for %s: status %d", trackID, resp.StatusCode())
	}
	return nil
}

// Count implements Counter with GET {base}/tracks/{id}/plays.
func (s *HTTPSink) Count(ctx context.Context, trackID string) (int64, error) {
	var out countResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", trackID).
		SetResult(&out).
		Get("/tracks/{id}/plays")
	if err != nil {
		return 0, fmt.Errorf("get plays for %s: %w", trackID, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("get plays for %s: status %d", trackID, resp.StatusCode())
	}
	return out.Count, nil
}

// Close closes the HTTP client.
func (s *HTTPSink) Close() error {
	return s.client.Close()
}

// LogSink discards plays after logging them at debug.
type LogSink struct{}

// Increment implements Sink.
func (LogSink) Increment(ctx context.Context, trackID string) error {
	log.Debug().Str("track", trackID).Msg("Play recorded")
	return nil
}

// Count implements Counter and always fails.
func (LogSink) Count(ctx context.Context, trackID string) (int64, error) {
	return 0, ErrUnsupported
}
