package main

import (
	"fmt"
	"io"

	"github.com/go-redis/redis"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"

	"github.com/edumarques81/hymnal-backend/internal/audio"
	"github.com/edumarques81/hymnal-backend/internal/infra/catalog"
	"github.com/edumarques81/hymnal-backend/internal/infra/mpd"
	"github.com/edumarques81/hymnal-backend/internal/infra/playcount"
	"github.com/edumarques81/hymnal-backend/internal/infra/store"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noClose io.Closer = closerFunc(func() error { return nil })

// openStore opens the SQLite database at cfg.DBPath.
func openStore(cfg *Config) (*store.DB, error) {
	db := store.NewDB(cfg.DBPath)
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// openCatalog returns the remote catalog when a URL is configured, otherwise
// the hot-reloaded catalog file.
func openCatalog(cfg *Config, watch bool) (catalog.Resolver, io.Closer, error) {
	if cfg.CatalogURL != "" {
		c := catalog.NewRemote(cfg.CatalogURL)
		log.Info().Str("url", cfg.CatalogURL).Msg("Using remote catalog")
		return c, c, nil
	}

	c, err := catalog.OpenFile(cfg.CatalogFile, catalog.WithReloadHook(func(n int) {
		log.Info().Str("path", cfg.CatalogFile).Int("tracks", n).Msg("Catalog reloaded")
	}))
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	if watch {
		if err := c.Watch(); err != nil {
			log.Warn().Err(err).Str("path", cfg.CatalogFile).Msg("Catalog hot reload disabled")
		}
	}
	return c, c, nil
}

// openPlaySink builds the configured play-count sink.
func openPlaySink(cfg *Config, db *store.DB) (playcount.Counter, io.Closer, error) {
	switch cfg.PlaySink {
	case "sqlite":
		return store.NewPlayCounts(db), noClose, nil
	case "redis":
		s := playcount.NewRedisSink(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		return s, s, nil
	case "http":
		s := playcount.NewHTTPSink(cfg.PlayCountURL, resty.New())
		return s, s, nil
	case "log":
		return playcount.LogSink{}, noClose, nil
	}
	return nil, nil, fmt.Errorf("unknown play-count sink %q", cfg.PlaySink)
}

// openOutput acquires the shared audio output. A nil output with a nil error
// means tracks play on the simulated clock.
func openOutput(cfg *Config) (audio.Output, error) {
	switch cfg.Output {
	case "none":
		return nil, nil
	case "mpd":
		return audio.Acquire(func() (audio.Output, error) {
			client := mpd.NewClient(cfg.MPDHost, cfg.MPDPort, cfg.MPDPassword)
			if err := client.Connect(); err != nil {
				return nil, fmt.Errorf("connect to MPD: %w", err)
			}
			if err := client.Ping(); err != nil {
				client.Close()
				return nil, fmt.Errorf("MPD ping: %w", err)
			}
			log.Info().Str("host", cfg.MPDHost).Int("port", cfg.MPDPort).Msg("MPD connection verified")
			return audio.NewMPDOutput(client), nil
		})
	case "speaker":
		return audio.Acquire(func() (audio.Output, error) {
			return audio.NewSpeakerOutput(audio.WithHTTPClient(resty.New()))
		})
	}
	return nil, fmt.Errorf("unknown output %q", cfg.Output)
}
