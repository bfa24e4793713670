// Package player provides the player state machine: the play queue, transport state,
// shuffle/repeat modes and the UI visibility flags of the now-playing surfaces.
package player

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// RestartThreshold is the position (seconds) after which Previous restarts the
// current track instead of moving to the prior one.
const RestartThreshold = 3.0

// Machine is the single source of truth for what should be playing and how.
// It is safe for concurrent access. Mutations never fail: misuse such as
// operating on an empty queue is a no-op.
type Machine struct {
	mu sync.Mutex

	// Queue
	queue        []Track
	currentIndex int

	// Transport
	isPlaying   bool
	currentTime float64
	duration    float64
	shuffle     bool
	repeat      RepeatMode

	// UI visibility
	nowPlayingExpanded bool
	lyricsOpen         bool
	miniPlayerVisible  bool
	navVisible         bool

	queueVersion uint64
	seekSeq      uint64

	intn func(n int) int
	subs map[*Subscription]struct{}
}

// Option configures a Machine.
type Option func(*Machine)

// WithRand sets the random source used by shuffle. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(m *Machine) {
		m.intn = intn
	}
}

// NewMachine creates an idle state machine with an empty queue.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		currentIndex: -1,
		repeat:       RepeatOff,
		navVisible:   true,
		intn:         rand.IntN,
		subs:         make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// update runs fn under the lock and signals subscribers when fn reports a change.
func (m *Machine) update(fn func() bool) {
	m.mu.Lock()
	changed := fn()
	var subs []*Subscription
	if changed {
		subs = lo.Keys(m.subs)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.signal()
	}
}

// moveTo makes index i current and restarts its position (must hold lock).
func (m *Machine) moveTo(i int) {
	m.currentIndex = i
	m.currentTime = 0
	m.duration = m.queue[i].Duration
	m.seekSeq++
}

func (m *Machine) hasTrackLocked() bool {
	return m.currentIndex >= 0 && m.currentIndex < len(m.queue)
}

// SetQueue replaces the queue and starts playing tracks[startIndex].
// An empty queue or an out-of-range start index is ignored.
func (m *Machine) SetQueue(tracks []Track, startIndex int) {
	m.update(func() bool {
		if len(tracks) == 0 || startIndex < 0 || startIndex >= len(tracks) {
			log.Debug().Int("tracks", len(tracks)).Int("startIndex", startIndex).Msg("SetQueue ignored")
			return false
		}

		m.queue = slices.Clone(tracks)
		m.queueVersion++
		m.moveTo(startIndex)
		m.isPlaying = true
		m.miniPlayerVisible = true

		log.Debug().Int("tracks", len(tracks)).Int("startIndex", startIndex).Msg("SetQueue")
		return true
	})
}

// PlayTrack plays track. With a non-nil queue that queue becomes the effective
// one, otherwise the current queue is reused. When the track is not part of the
// effective queue, the queue collapses to the single track.
func (m *Machine) PlayTrack(track Track, queue []Track) {
	m.update(func() bool {
		effective := m.queue
		replaced := false
		if queue != nil {
			effective = queue
			replaced = true
		}

		_, idx, found := lo.FindIndexOf(effective, func(t Track) bool {
			return t.ID == track.ID
		})
		if !found {
			effective = []Track{track}
			idx = 0
			replaced = true
		}

		if replaced {
			m.queue = slices.Clone(effective)
			m.queueVersion++
		}
		m.moveTo(idx)
		m.isPlaying = true
		m.miniPlayerVisible = true

		log.Debug().
			Str("track", track.ID).
			Int("index", idx).
			Int("queue", len(m.queue)).
			Bool("collapsed", !found).
			Msg("PlayTrack")
		return true
	})
}

// Next advances the queue. Repeat-one replays the current track, shuffle picks
// a random index (possibly the same one), otherwise the queue advances
// sequentially, wrapping with repeat-all and stopping at the end otherwise.
func (m *Machine) Next() {
	m.update(func() bool {
		n := len(m.queue)
		if n == 0 {
			return false
		}

		switch {
		case m.repeat == RepeatOne:
			m.currentTime = 0
			m.seekSeq++
		case m.shuffle:
			m.moveTo(m.intn(n))
		case m.currentIndex+1 < n:
			m.moveTo(m.currentIndex + 1)
		case m.repeat == RepeatAll:
			m.moveTo(0)
		default:
			m.isPlaying = false
		}

		log.Debug().Int("index", m.currentIndex).Bool("playing", m.isPlaying).Msg("Next")
		return true
	})
}

// Previous restarts the current track when more than RestartThreshold seconds
// have played, otherwise moves to the prior index, wrapping to the last one.
func (m *Machine) Previous() {
	m.update(func() bool {
		n := len(m.queue)
		if n == 0 {
			return false
		}

		if m.currentTime > RestartThreshold {
			m.currentTime = 0
			m.seekSeq++
			log.Debug().Int("index", m.currentIndex).Msg("Previous restarted track")
			return true
		}

		i := m.currentIndex - 1
		if i < 0 {
			i = n - 1
		}
		m.moveTo(i)

		log.Debug().Int("index", i).Msg("Previous")
		return true
	})
}

// SeekTo sets the playback position. It does not move real playback; the
// playback driver follows the change. Out-of-range positions are ignored.
func (m *Machine) SeekTo(t float64) {
	m.update(func() bool {
		if !m.hasTrackLocked() || t < 0 || math.IsNaN(t) {
			return false
		}
		if m.duration > 0 && t > m.duration {
			return false
		}

		m.currentTime = t
		m.seekSeq++
		return true
	})
}

// Play resumes playback of the current track.
func (m *Machine) Play() {
	m.update(func() bool {
		if !m.hasTrackLocked() || m.isPlaying {
			return false
		}
		m.isPlaying = true
		return true
	})
}

// Pause pauses playback.
func (m *Machine) Pause() {
	m.update(func() bool {
		if !m.isPlaying {
			return false
		}
		m.isPlaying = false
		return true
	})
}

// TogglePlay switches between playing and paused.
func (m *Machine) TogglePlay() {
	m.update(func() bool {
		if !m.hasTrackLocked() {
			return false
		}
		m.isPlaying = !m.isPlaying
		return true
	})
}

// ToggleShuffle flips shuffle mode.
func (m *Machine) ToggleShuffle() {
	m.update(func() bool {
		m.shuffle = !m.shuffle
		return true
	})
}

// CycleRepeat moves the repeat mode along off -> all -> one -> off.
func (m *Machine) CycleRepeat() {
	m.update(func() bool {
		m.repeat = m.repeat.Next()
		return true
	})
}

// SetRepeat sets the repeat mode directly.
func (m *Machine) SetRepeat(mode RepeatMode) {
	m.update(func() bool {
		if m.repeat == mode {
			return false
		}
		m.repeat = mode
		return true
	})
}

// Clear empties the queue and stops playback.
func (m *Machine) Clear() {
	m.update(func() bool {
		if len(m.queue) == 0 && m.currentIndex == -1 {
			return false
		}
		m.queue = nil
		m.queueVersion++
		m.currentIndex = -1
		m.isPlaying = false
		m.currentTime = 0
		m.duration = 0
		m.miniPlayerVisible = false
		return true
	})
}

// ExpandNowPlaying opens the full-screen now-playing overlay and hides the nav bar.
func (m *Machine) ExpandNowPlaying() {
	m.update(func() bool {
		m.nowPlayingExpanded = true
		m.navVisible = false
		return true
	})
}

// MinimizeNowPlaying closes the overlay, restores the nav bar and closes the lyrics drawer.
func (m *Machine) MinimizeNowPlaying() {
	m.update(func() bool {
		m.nowPlayingExpanded = false
		m.navVisible = true
		m.lyricsOpen = false
		return true
	})
}

// OpenLyrics opens the lyrics drawer.
func (m *Machine) OpenLyrics() {
	m.update(func() bool {
		m.lyricsOpen = true
		return true
	})
}

// CloseLyrics closes the lyrics drawer.
func (m *Machine) CloseLyrics() {
	m.update(func() bool {
		m.lyricsOpen = false
		return true
	})
}

// ToggleLyrics flips the lyrics drawer.
func (m *Machine) ToggleLyrics() {
	m.update(func() bool {
		m.lyricsOpen = !m.lyricsOpen
		return true
	})
}

// HideMiniPlayer hides the persistent mini-player.
func (m *Machine) HideMiniPlayer() {
	m.update(func() bool {
		m.miniPlayerVisible = false
		return true
	})
}

// UpdateTime records the measured playback position reported by the playback driver.
func (m *Machine) UpdateTime(t float64) {
	m.update(func() bool {
		if !m.hasTrackLocked() || t < 0 || math.IsNaN(t) || t == m.currentTime {
			return false
		}
		m.currentTime = t
		return true
	})
}

// SetDuration records the duration measured from real media metadata.
// Unknown (zero, negative or non-finite) durations keep the stored one.
func (m *Machine) SetDuration(d float64) {
	m.update(func() bool {
		if !m.hasTrackLocked() || d <= 0 || math.IsNaN(d) || math.IsInf(d, 0) || d == m.duration {
			return false
		}
		m.duration = d
		return true
	})
}

// Position returns the live playback position and whether a track is loaded.
func (m *Machine) Position() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime, m.hasTrackLocked()
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Queue:              slices.Clone(m.queue),
		CurrentIndex:       m.currentIndex,
		IsPlaying:          m.isPlaying,
		CurrentTime:        m.currentTime,
		Duration:           m.duration,
		Shuffle:            m.shuffle,
		Repeat:             m.repeat,
		NowPlayingExpanded: m.nowPlayingExpanded,
		LyricsOpen:         m.lyricsOpen,
		MiniPlayerVisible:  m.miniPlayerVisible,
		NavVisible:         m.navVisible,
		QueueVersion:       m.queueVersion,
		SeekSeq:            m.seekSeq,
	}
	if m.hasTrackLocked() {
		t := m.queue[m.currentIndex]
		s.CurrentTrack = &t
	}
	return s
}

// Subscribe registers for change signals. Signals coalesce: a pending signal
// covers any number of later changes, so receivers should read Snapshot.
func (m *Machine) Subscribe() *Subscription {
	s := &Subscription{
		ch: make(chan struct{}, 1),
		m:  m,
	}

	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	return s
}
