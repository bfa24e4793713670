//go:build cgo

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

// SpeakerAvailable indicates whether the speaker output works in this build.
const SpeakerAvailable = true

// SpeakerOutput decodes MP3 sources in memory and plays them on the host
// sound device.
type SpeakerOutput struct {
	cfg        speakerConfig
	sampleRate beep.SampleRate
	ls         listeners

	mu       sync.Mutex
	current  Source
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	queued   bool // ctrl is in the speaker mixer
	gen      int
	tickStop chan struct{}
}

// NewSpeakerOutput initialises the host sound device.
func NewSpeakerOutput(opts ...SpeakerOption) (*SpeakerOutput, error) {
	cfg := newSpeakerConfig(opts)
	sr := beep.SampleRate(cfg.sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &SpeakerOutput{cfg: cfg, sampleRate: sr}, nil
}

// Load implements Output.
func (o *SpeakerOutput) Load(ctx context.Context, src Source) error {
	data, err := o.cfg.fetch(ctx, src.URL)
	if err != nil {
		return err
	}

	streamer, format, err := mp3.Decode(nopCloser{bytes.NewReader(data)})
	if err != nil {
		return fmt.Errorf("decode %s: %w", src.URL, err)
	}

	o.mu.Lock()
	if err := ctx.Err(); err != nil {
		o.mu.Unlock()
		streamer.Close()
		return err
	}
	o.stopLocked()
	o.gen++
	o.current = src
	o.streamer = streamer
	o.format = format
	o.ctrl = &beep.Ctrl{Streamer: beep.Resample(4, format.SampleRate, o.sampleRate, streamer), Paused: true}
	o.enqueueLocked()
	duration := format.SampleRate.D(streamer.Len()).Seconds()
	o.mu.Unlock()

	log.Debug().Str("track", src.TrackID).Int("sampleRate", int(format.SampleRate)).Float64("duration", duration).Msg("Speaker source loaded")
	o.ls.emit(Event{Type: EventLoaded, Source: src, Duration: duration})
	return nil
}

// enqueueLocked adds the control to the mixer with an end callback (must hold lock).
func (o *SpeakerOutput) enqueueLocked() {
	gen, ctrl := o.gen, o.ctrl
	o.queued = true
	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		// Runs on the speaker goroutine with the speaker lock held.
		go o.finished(gen)
	})))
}

func (o *SpeakerOutput) finished(gen int) {
	o.mu.Lock()
	if gen != o.gen || o.streamer == nil {
		o.mu.Unlock()
		return
	}
	o.queued = false
	o.stopTickerLocked()
	src := o.current
	o.mu.Unlock()

	o.ls.emit(Event{Type: EventEnded, Source: src})
}

// Current implements Output.
func (o *SpeakerOutput) Current() Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Ready implements Output. Sources are fully buffered once loaded.
func (o *SpeakerOutput) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streamer != nil
}

// Play implements Output.
func (o *SpeakerOutput) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.streamer == nil {
		return errors.New("no source loaded")
	}
	if !o.queued {
		if o.streamer.Position() >= o.streamer.Len() {
			speaker.Lock()
			err := o.streamer.Seek(0)
			speaker.Unlock()
			if err != nil {
				return err
			}
		}
		o.enqueueLocked()
	}

	speaker.Lock()
	o.ctrl.Paused = false
	speaker.Unlock()

	o.startTickerLocked()
	return nil
}

// Pause implements Output.
func (o *SpeakerOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctrl != nil {
		speaker.Lock()
		o.ctrl.Paused = true
		speaker.Unlock()
	}
	o.stopTickerLocked()
	return nil
}

// Seek implements Output.
func (o *SpeakerOutput) Seek(seconds float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.streamer == nil {
		return nil
	}

	samples := o.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	samples = min(max(samples, 0), o.streamer.Len())

	speaker.Lock()
	defer speaker.Unlock()
	return o.streamer.Seek(samples)
}

// Stop implements Output.
func (o *SpeakerOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.gen++
	return nil
}

// stopLocked detaches the current source (must hold lock).
func (o *SpeakerOutput) stopLocked() {
	o.stopTickerLocked()
	speaker.Clear()
	if o.streamer != nil {
		o.streamer.Close()
		o.streamer = nil
	}
	o.ctrl = nil
	o.queued = false
	o.current = Source{}
}

// Subscribe implements Output.
func (o *SpeakerOutput) Subscribe(l Listener) func() {
	return o.ls.add(l)
}

// Close implements Output.
func (o *SpeakerOutput) Close() error {
	o.Stop()
	speaker.Close()
	return nil
}

func (o *SpeakerOutput) startTickerLocked() {
	o.stopTickerLocked()
	stop := make(chan struct{})
	o.tickStop = stop

	go func() {
		ticker := time.NewTicker(o.cfg.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.mu.Lock()
				if o.streamer == nil {
					o.mu.Unlock()
					return
				}
				speaker.Lock()
				pos := o.format.SampleRate.D(o.streamer.Position()).Seconds()
				speaker.Unlock()
				src := o.current
				o.mu.Unlock()

				o.ls.emit(Event{Type: EventTime, Source: src, Position: pos})
			}
		}
	}()
}

func (o *SpeakerOutput) stopTickerLocked() {
	if o.tickStop != nil {
		close(o.tickStop)
		o.tickStop = nil
	}
}

// nopCloser adapts a bytes.Reader to io.ReadCloser.
type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
