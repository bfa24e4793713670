// Package audio provides the shared playback output: a process-wide audio
// handle that outlives the playback driver, with MPD and speaker backends.
package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable is returned when an output backend cannot be used in this build or host.
var ErrUnavailable = errors.New("audio output unavailable")

// Source identifies what an output is pointed at.
type Source struct {
	TrackID string `json:"trackId"`
	URL     string `json:"url"`
}

// EventType enumerates media events.
type EventType int

const (
	// EventLoaded fires once metadata is known after Load.
	EventLoaded EventType = iota
	// EventTime reports playback progress.
	EventTime
	// EventEnded fires when the source plays to its natural end.
	EventEnded
)

func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventTime:
		return "time"
	case EventEnded:
		return "ended"
	}
	return "unknown"
}

// Event is a media event emitted by an Output.
type Event struct {
	Type     EventType
	Source   Source
	Duration float64 // EventLoaded; 0 when unknown
	Position float64 // EventTime
}

// Listener receives media events. It is called from the output's own
// goroutines without output locks held.
type Listener func(Event)

// Output is a single audio output handle.
type Output interface {
	// Load points the output at src without starting playback.
	Load(ctx context.Context, src Source) error
	// Current returns the loaded source, zero when detached.
	Current() Source
	// Ready reports whether the current source can start playing.
	Ready() bool
	Play() error
	Pause() error
	Seek(seconds float64) error
	// Stop detaches the current source.
	Stop() error
	// Subscribe registers l and returns a function removing it.
	Subscribe(l Listener) func()
	// Close releases the device.
	Close() error
}

// listeners is a registry of Listener callbacks shared by output backends.
type listeners struct {
	mu   sync.Mutex
	next int
	m    map[int]Listener
}

func (ls *listeners) add(l Listener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.m == nil {
		ls.m = make(map[int]Listener)
	}
	id := ls.next
	ls.next++
	ls.m[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			delete(ls.m, id)
			ls.mu.Unlock()
		})
	}
}

func (ls *listeners) emit(ev Event) {
	ls.mu.Lock()
	targets := make([]Listener, 0, len(ls.m))
	for _, l := range ls.m {
		targets = append(targets, l)
	}
	ls.mu.Unlock()

	for _, l := range targets {
		l(ev)
	}
}
