package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/hymnal-backend/internal/infra/mpd"
)

// DefaultPollInterval is how often the MPD output reports progress.
const DefaultPollInterval = 250 * time.Millisecond

// MPDClient is the subset of the MPD client used by MPDOutput.
type MPDClient interface {
	Status() (gompd.Attrs, error)
	Clear() error
	AddID(uri string) (int, error)
	SongInfo(id int) (gompd.Attrs, error)
	PlayID(id int) error
	Pause(pause bool) error
	Stop() error
	SeekCur(pos float64) error
	Watch(ctx context.Context, subsystems ...string) (<-chan string, error)
	Close() error
}

// MPDOutput plays sources through an MPD server. The MPD queue holds only
// the current source.
type MPDOutput struct {
	client   MPDClient
	interval time.Duration
	ls       listeners

	mu          sync.Mutex
	current     Source
	songID      int
	ready       bool
	started     bool // PlayID issued for the current song
	playing     bool
	pendingSeek float64

	cancel context.CancelFunc
	done   chan struct{}
}

// MPDOption configures an MPDOutput.
type MPDOption func(*MPDOutput)

// WithPollInterval sets the progress polling interval.
func WithPollInterval(d time.Duration) MPDOption {
	return func(o *MPDOutput) {
		o.interval = d
	}
}

// NewMPDOutput creates an output driving client and starts its poller.
func NewMPDOutput(client MPDClient, opts ...MPDOption) *MPDOutput {
	o := &MPDOutput{
		client:   client,
		interval: DefaultPollInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	go o.poll(ctx)
	return o
}

// Load implements Output.
func (o *MPDOutput) Load(ctx context.Context, src Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	o.current = Source{}
	o.ready = false
	o.started = false
	o.playing = false
	o.pendingSeek = 0
	o.mu.Unlock()

	if err := o.client.Clear(); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	id, err := o.client.AddID(src.URL)
	if err != nil {
		return fmt.Errorf("add %s: %w", src.URL, err)
	}

	var duration float64
	if info, err := o.client.SongInfo(id); err != nil {
		log.Debug().Err(err).Int("songId", id).Msg("MPD song info unavailable")
	} else {
		duration = mpd.Duration(info)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	o.current = src
	o.songID = id
	o.ready = true
	o.mu.Unlock()

	log.Debug().Str("track", src.TrackID).Int("songId", id).Float64("duration", duration).Msg("MPD source loaded")
	o.ls.emit(Event{Type: EventLoaded, Source: src, Duration: duration})
	return nil
}

// Current implements Output.
func (o *MPDOutput) Current() Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Ready implements Output.
func (o *MPDOutput) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// Play implements Output.
func (o *MPDOutput) Play() error {
	o.mu.Lock()
	ready, started, id, seek := o.ready, o.started, o.songID, o.pendingSeek
	o.mu.Unlock()

	if !ready {
		return errors.New("no source loaded")
	}

	if started {
		if err := o.client.Pause(false); err != nil {
			return err
		}
	} else {
		if err := o.client.PlayID(id); err != nil {
			return err
		}
		if seek > 0 {
			if err := o.client.SeekCur(seek); err != nil {
				log.Debug().Err(err).Float64("position", seek).Msg("MPD pending seek failed")
			}
		}
	}

	o.mu.Lock()
	o.started = true
	o.playing = true
	o.pendingSeek = 0
	o.mu.Unlock()
	return nil
}

// Pause implements Output.
func (o *MPDOutput) Pause() error {
	o.mu.Lock()
	started := o.started
	o.playing = false
	o.mu.Unlock()

	if !started {
		return nil
	}
	return o.client.Pause(true)
}

// Seek implements Output. Before the first Play the position is applied on start.
func (o *MPDOutput) Seek(seconds float64) error {
	o.mu.Lock()
	if !o.started {
		o.pendingSeek = seconds
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	return o.client.SeekCur(seconds)
}

// Stop implements Output.
func (o *MPDOutput) Stop() error {
	o.mu.Lock()
	loaded := o.ready
	o.current = Source{}
	o.ready = false
	o.started = false
	o.playing = false
	o.pendingSeek = 0
	o.mu.Unlock()

	if !loaded {
		return nil
	}
	if err := o.client.Stop(); err != nil {
		return err
	}
	return o.client.Clear()
}

// Subscribe implements Output.
func (o *MPDOutput) Subscribe(l Listener) func() {
	return o.ls.add(l)
}

// Close stops the poller and closes the MPD connection.
func (o *MPDOutput) Close() error {
	o.cancel()
	<-o.done
	return o.client.Close()
}

// poll reports progress while playing and detects the natural end of the
// current song. MPD player events trigger an immediate poll.
func (o *MPDOutput) poll(ctx context.Context) {
	defer close(o.done)

	events, err := o.client.Watch(ctx, "player")
	if err != nil {
		log.Warn().Err(err).Msg("MPD watcher unavailable, polling only")
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			o.check()
		case <-ticker.C:
			o.check()
		}
	}
}

func (o *MPDOutput) check() {
	o.mu.Lock()
	playing, src := o.playing, o.current
	o.mu.Unlock()

	if !playing {
		return
	}

	status, err := o.client.Status()
	if err != nil {
		log.Debug().Err(err).Msg("MPD status failed")
		return
	}

	switch status["state"] {
	case "play":
		o.ls.emit(Event{Type: EventTime, Source: src, Position: mpd.Elapsed(status)})
	case "stop":
		o.mu.Lock()
		if !o.playing || o.current != src {
			o.mu.Unlock()
			return
		}
		o.playing = false
		o.started = false
		o.mu.Unlock()

		log.Debug().Str("track", src.TrackID).Msg("MPD song ended")
		o.ls.emit(Event{Type: EventEnded, Source: src})
	}
}
