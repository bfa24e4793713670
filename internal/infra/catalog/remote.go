package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"resty.dev/v3"

	"github.com/edumarques81/hymnal-backend/internal/domain/player"
)

// DefaultRemoteTimeout bounds catalog requests.
const DefaultRemoteTimeout = 10 * time.Second

// RemoteCatalog resolves tracks against an HTTP service exposing
// GET {base}/tracks and GET {base}/tracks/{id}.
type RemoteCatalog struct {
	client *resty.Client
}

// RemoteOption configures a RemoteCatalog.
type RemoteOption func(*RemoteCatalog)

// WithRemoteClient sets the resty client.
func WithRemoteClient(client *resty.Client) RemoteOption {
	return func(c *RemoteCatalog) {
		c.client = client
	}
}

// NewRemote creates a catalog against baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *RemoteCatalog {
	c := &RemoteCatalog{}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = resty.New().SetTimeout(DefaultRemoteTimeout)
	}
	c.client.SetBaseURL(baseURL).SetHeader("Accept", "application/json")
	return c
}

// Track implements Resolver.
func (c *RemoteCatalog) Track(ctx context.Context, id string) (player.Track, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/tracks/{id}")
	if err != nil {
		return player.Track{}, fmt.Errorf("fetch track %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return player.Track{}, ErrTrackNotFound
	}
	if resp.IsError() {
		return player.Track{}, fmt.Errorf("fetch track %s: status %d", id, resp.StatusCode())
	}

	var e entry
	if err := json.Unmarshal(resp.Bytes(), &e); err != nil {
		return player.Track{}, fmt.Errorf("parse track %s: %w", id, err)
	}
	if e.ID == "" {
		e.ID = id
	}
	return e.track(), nil
}

// Tracks implements Resolver.
func (c *RemoteCatalog) Tracks(ctx context.Context) ([]player.Track, error) {
	resp, err := c.client.R().SetContext(ctx).Get("/tracks")
	if err != nil {
		return nil, fmt.Errorf("fetch tracks: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch tracks: status %d", resp.StatusCode())
	}
	return decode(resp.Bytes())
}

// Close closes the HTTP client.
func (c *RemoteCatalog) Close() error {
	return c.client.Close()
}
