// Package playback drives the audio output from the player state machine and
// feeds measured time and duration back into it.
package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/hymnal-backend/internal/audio"
	"github.com/edumarques81/hymnal-backend/internal/domain/player"
)

const (
	// SimTick is the simulated clock interval.
	SimTick = 250 * time.Millisecond
	// SimStep is how far the simulated clock advances per tick, in seconds.
	SimStep = 0.25

	eventBuffer = 64
)

// PlayCounter records a play of a track without blocking.
type PlayCounter interface {
	Increment(trackID string)
}

type mode int

const (
	modeNone mode = iota
	modeReal
	modeSim
)

func (m mode) String() string {
	switch m {
	case modeReal:
		return "real"
	case modeSim:
		return "simulated"
	}
	return "none"
}

type mediaEvent struct {
	gen uint64
	ev  audio.Event
}

type loadResult struct {
	gen     uint64
	trackID string
	err     error
}

// Driver owns every effect on the audio output. All of its state is confined
// to the goroutine running Run.
type Driver struct {
	machine *player.Machine
	output  audio.Output
	counter PlayCounter
	tick    time.Duration

	events chan mediaEvent
	loads  chan loadResult
	done   chan struct{}
	ready  atomic.Value // string: track the output or clock is ready for

	started  bool
	last     player.Snapshot
	loadedID string
	mode     mode
	gen      uint64
	detach   func()
	ticker   *time.Ticker
	tickC    <-chan time.Time

	cancelLoad context.CancelFunc
	loading    chan struct{} // closed when the latest load goroutine returns
}

// Option configures a Driver.
type Option func(*Driver)

// WithOutput sets the audio output. Without one every track uses the simulated clock.
func WithOutput(out audio.Output) Option {
	return func(d *Driver) {
		d.output = out
	}
}

// WithPlayCounter sets the play counter notified once per real media load.
func WithPlayCounter(c PlayCounter) Option {
	return func(d *Driver) {
		d.counter = c
	}
}

// WithTickInterval overrides the simulated clock interval. The clock still
// advances SimStep per tick.
func WithTickInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.tick = interval
	}
}

// NewDriver creates a driver for machine.
func NewDriver(machine *player.Machine, opts ...Option) *Driver {
	d := &Driver{
		machine: machine,
		tick:    SimTick,
		events:  make(chan mediaEvent, eventBuffer),
		loads:   make(chan loadResult, eventBuffer),
		done:    make(chan struct{}),
	}
	d.ready.Store("")
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run reconciles the output with the machine until ctx is done. On return
// the output is paused, never destroyed, so a later driver can resume it.
func (d *Driver) Run(ctx context.Context) error {
	sub := d.machine.Subscribe()
	defer sub.Close()
	defer close(d.done)

	log.Info().Str("output", outputName(d.output)).Msg("Playback driver started")
	d.reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			d.teardown()
			log.Info().Msg("Playback driver stopped")
			return nil
		case <-sub.C():
			d.reconcile(ctx)
		case me := <-d.events:
			d.handleMedia(me)
		case res := <-d.loads:
			d.handleLoad(res)
		case <-d.tickC:
			d.simTick()
		}
	}
}

// reconcile diffs the machine snapshot against the last one processed.
func (d *Driver) reconcile(ctx context.Context) {
	cur := d.machine.Snapshot()
	prev, first := d.last, !d.started
	d.last = cur
	d.started = true

	id := cur.TrackID()
	if id == "" {
		if d.loadedID != "" || first {
			d.unload()
		}
		return
	}

	if id != d.loadedID {
		d.changeTrack(ctx, *cur.CurrentTrack, cur, first)
		return
	}

	if cur.SeekSeq != prev.SeekSeq {
		d.seek(cur)
	}
	if cur.IsPlaying != prev.IsPlaying {
		d.setPlaying(cur.IsPlaying)
	}
}

func (d *Driver) changeTrack(ctx context.Context, track player.Track, cur player.Snapshot, first bool) {
	d.detachListeners()
	d.stopTimer()
	d.loadedID = track.ID
	d.ready.Store("")

	if first && d.output != nil && d.output.Current().TrackID == track.ID {
		d.mode = modeReal
		d.attach()
		d.ready.Store(track.ID)
		log.Debug().Str("track", track.ID).Msg("Resuming already loaded track")
		if cur.IsPlaying && d.output.Ready() {
			d.play()
		}
		return
	}

	if !track.HasMedia() || d.output == nil {
		d.mode = modeSim
		if d.output != nil {
			if err := d.output.Stop(); err != nil {
				log.Debug().Err(err).Msg("Detaching output failed")
			}
		}
		d.ready.Store(track.ID)
		log.Debug().Str("track", track.ID).Float64("duration", cur.Duration).Msg("Using simulated clock")
		if cur.IsPlaying {
			d.startTimer()
		}
		return
	}

	d.mode = modeReal
	d.attach()
	d.startLoad(ctx, audio.Source{TrackID: track.ID, URL: track.AudioURL})
}

// startLoad runs output.Load off the loop. Loads reach the output in the
// order they were started; the result comes back through d.loads.
func (d *Driver) startLoad(ctx context.Context, src audio.Source) {
	loadCtx, cancel := context.WithCancel(ctx)
	d.cancelLoad = cancel
	prev, done := d.loading, make(chan struct{})
	d.loading = done
	gen := d.gen

	go func() {
		defer close(done)
		defer cancel()
		if prev != nil {
			<-prev
		}

		err := loadCtx.Err()
		if err == nil {
			err = d.output.Load(loadCtx, src)
		}
		select {
		case d.loads <- loadResult{gen: gen, trackID: src.TrackID, err: err}:
		case <-d.done:
		}
	}()
}

func (d *Driver) handleLoad(res loadResult) {
	if res.gen != d.gen || res.trackID != d.loadedID {
		log.Debug().Err(res.err).Str("track", res.trackID).Msg("Dropped superseded load")
		// The output may have been detached while this load was running.
		if res.err == nil && d.mode != modeReal && d.output != nil {
			if err := d.output.Stop(); err != nil {
				log.Debug().Err(err).Msg("Detaching output failed")
			}
		}
		return
	}
	if res.err != nil {
		log.Warn().Err(res.err).Str("track", res.trackID).Msg("Failed to load track")
		return
	}

	d.ready.Store(res.trackID)
	if d.counter != nil {
		d.counter.Increment(res.trackID)
	}
	log.Debug().Str("track", res.trackID).Msg("Track loaded")
}

// Loaded reports whether trackID is loaded on the output, or running on the
// simulated clock. Safe for any goroutine.
func (d *Driver) Loaded(trackID string) bool {
	return trackID != "" && d.ready.Load().(string) == trackID
}

// unload detaches the output when nothing is current.
func (d *Driver) unload() {
	d.detachListeners()
	d.stopTimer()
	d.loadedID = ""
	d.mode = modeNone
	d.ready.Store("")
	if d.output != nil {
		if err := d.output.Stop(); err != nil {
			log.Debug().Err(err).Msg("Stopping output failed")
		}
	}
}

func (d *Driver) seek(cur player.Snapshot) {
	switch d.mode {
	case modeReal:
		if err := d.output.Seek(cur.CurrentTime); err != nil {
			log.Debug().Err(err).Float64("position", cur.CurrentTime).Msg("Seek failed")
		}
		if cur.IsPlaying {
			d.play()
		}
	case modeSim:
		if cur.IsPlaying {
			d.startTimer()
		} else {
			d.stopTimer()
		}
	}
}

func (d *Driver) setPlaying(on bool) {
	switch d.mode {
	case modeReal:
		if !on {
			if err := d.output.Pause(); err != nil {
				log.Debug().Err(err).Msg("Pause failed")
			}
			return
		}
		// Otherwise the loaded handler starts playback.
		if d.output.Ready() {
			d.play()
		}
	case modeSim:
		if on {
			d.startTimer()
		} else {
			d.stopTimer()
		}
	}
}

// play starts real playback. Failures are swallowed and isPlaying stays set.
func (d *Driver) play() {
	if err := d.output.Play(); err != nil {
		log.Debug().Err(err).Str("track", d.loadedID).Msg("Playback start failed")
	}
}

// attach subscribes to output events under a new generation.
func (d *Driver) attach() {
	d.gen++
	gen := d.gen
	d.detach = d.output.Subscribe(func(ev audio.Event) {
		me := mediaEvent{gen: gen, ev: ev}
		select {
		case d.events <- me:
			return
		default:
		}
		if ev.Type == audio.EventTime {
			return
		}
		go func() {
			select {
			case d.events <- me:
			case <-d.done:
			}
		}()
	})
}

// detachListeners removes output listeners and cancels a running load; events
// and load results already queued become stale.
func (d *Driver) detachListeners() {
	if d.cancelLoad != nil {
		d.cancelLoad()
		d.cancelLoad = nil
	}
	if d.detach != nil {
		d.detach()
		d.detach = nil
	}
	d.gen++
}

func (d *Driver) handleMedia(me mediaEvent) {
	if me.gen != d.gen || d.mode != modeReal || me.ev.Source.TrackID != d.loadedID {
		log.Debug().Stringer("event", me.ev.Type).Str("track", me.ev.Source.TrackID).Msg("Dropped stale media event")
		return
	}

	switch me.ev.Type {
	case audio.EventLoaded:
		if me.ev.Duration > 0 {
			d.machine.SetDuration(me.ev.Duration)
		}
		if d.machine.Snapshot().IsPlaying {
			d.play()
		}
	case audio.EventTime:
		d.machine.UpdateTime(me.ev.Position)
	case audio.EventEnded:
		log.Debug().Str("track", d.loadedID).Msg("Track ended")
		d.machine.Next()
	}
}

// startTimer starts the simulated clock, replacing any running one.
func (d *Driver) startTimer() {
	d.stopTimer()
	d.ticker = time.NewTicker(d.tick)
	d.tickC = d.ticker.C
}

func (d *Driver) stopTimer() {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
	d.tickC = nil
}

// simTick advances the simulated clock; reaching the duration moves on.
func (d *Driver) simTick() {
	s := d.machine.Snapshot()
	if d.mode != modeSim || s.CurrentTrack == nil || !s.IsPlaying {
		d.stopTimer()
		return
	}

	t := s.CurrentTime + SimStep
	if t >= s.Duration {
		d.stopTimer()
		d.machine.Next()
		return
	}
	d.machine.UpdateTime(t)
}

func (d *Driver) teardown() {
	d.stopTimer()
	d.detachListeners()
	if d.output != nil {
		if err := d.output.Pause(); err != nil {
			log.Debug().Err(err).Msg("Pause on teardown failed")
		}
	}
}

func outputName(out audio.Output) string {
	switch out.(type) {
	case nil:
		return "none"
	case *audio.MPDOutput:
		return "mpd"
	case *audio.SpeakerOutput:
		return "speaker"
	}
	return "custom"
}
