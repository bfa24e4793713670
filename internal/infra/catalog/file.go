package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/edumarques81/hymnal-backend/internal/domain/player"
)

// reloadDelay lets editors finish writing before the file is re-read.
const reloadDelay = 50 * time.Millisecond

// FileCatalog serves tracks from a JSON file and reloads it when it changes.
type FileCatalog struct {
	path string

	mu     sync.RWMutex
	tracks []player.Track
	byID   map[string]player.Track

	watcher *fsnotify.Watcher
	done    chan struct{}
	onLoad  func(n int)
}

// FileOption configures a FileCatalog.
type FileOption func(*FileCatalog)

// WithReloadHook is called with the track count after every successful load.
func WithReloadHook(fn func(n int)) FileOption {
	return func(c *FileCatalog) {
		c.onLoad = fn
	}
}

// OpenFile loads the catalog at path.
func OpenFile(path string, opts ...FileOption) (*FileCatalog, error) {
	c := &FileCatalog{path: path}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the file. On failure the previous tracks are kept.
func (c *FileCatalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", c.path, err)
	}
	tracks, err := decode(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tracks = tracks
	c.byID = lo.KeyBy(tracks, func(t player.Track) string { return t.ID })
	c.mu.Unlock()

	log.Info().Str("path", c.path).Int("tracks", len(tracks)).Msg("Catalog loaded")
	if c.onLoad != nil {
		c.onLoad(len(tracks))
	}
	return nil
}

// Track implements Resolver.
func (c *FileCatalog) Track(ctx context.Context, id string) (player.Track, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	if !ok {
		return player.Track{}, ErrTrackNotFound
	}
	return t, nil
}

// Tracks implements Resolver.
func (c *FileCatalog) Tracks(ctx context.Context) ([]player.Track, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]player.Track(nil), c.tracks...), nil
}

// Watch reloads the catalog whenever the file is written or replaced. The
// directory is watched so that atomic renames are seen.
func (c *FileCatalog) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(c.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch catalog: %w", err)
	}

	c.watcher = fsw
	c.done = make(chan struct{})
	go c.watch(fsw, c.done)
	return nil
}

func (c *FileCatalog) watch(fsw *fsnotify.Watcher, done chan struct{}) {
	name := filepath.Clean(c.path)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				time.Sleep(reloadDelay)
				if err := c.Reload(); err != nil {
					log.Warn().Err(err).Msg("Catalog reload failed, keeping previous tracks")
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("Catalog watcher error")
		case <-done:
			return
		}
	}
}

// Close stops watching.
func (c *FileCatalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	err := c.watcher.Close()
	c.watcher = nil
	return err
}
