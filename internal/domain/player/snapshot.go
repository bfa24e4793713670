package player

import "sync"

// Snapshot is an immutable copy of the machine state.
type Snapshot struct {
	Queue        []Track `json:"queue"`
	CurrentIndex int     `json:"currentIndex"`
	CurrentTrack *Track  `json:"currentTrack"`

	IsPlaying   bool       `json:"isPlaying"`
	CurrentTime float64    `json:"currentTime"`
	Duration    float64    `json:"duration"`
	Shuffle     bool       `json:"shuffle"`
	Repeat      RepeatMode `json:"repeat"`

	NowPlayingExpanded bool `json:"nowPlayingExpanded"`
	LyricsOpen         bool `json:"lyricsOpen"`
	MiniPlayerVisible  bool `json:"miniPlayerVisible"`
	NavVisible         bool `json:"navVisible"`

	// QueueVersion increments whenever the queue is replaced.
	QueueVersion uint64 `json:"queueVersion"`
	// SeekSeq increments whenever the position is explicitly reset.
	SeekSeq uint64 `json:"seekSeq"`
}

// TrackID returns the current track id, or "" when nothing is current.
func (s Snapshot) TrackID() string {
	if s.CurrentTrack == nil {
		return ""
	}
	return s.CurrentTrack.ID
}

// ToJSON converts the snapshot to the map shape pushed to clients.
// The queue itself is pushed separately.
func (s Snapshot) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"currentIndex":       s.CurrentIndex,
		"isPlaying":          s.IsPlaying,
		"currentTime":        s.CurrentTime,
		"duration":           s.Duration,
		"shuffle":            s.Shuffle,
		"repeat":             string(s.Repeat),
		"nowPlayingExpanded": s.NowPlayingExpanded,
		"lyricsOpen":         s.LyricsOpen,
		"miniPlayerVisible":  s.MiniPlayerVisible,
		"navVisible":         s.NavVisible,
		"queueLength":        len(s.Queue),
		"queueVersion":       s.QueueVersion,
	}
	if s.CurrentTrack != nil {
		result["currentTrack"] = *s.CurrentTrack
	} else {
		result["currentTrack"] = nil
	}
	return result
}

// Subscription receives a signal after machine mutations.
type Subscription struct {
	ch   chan struct{}
	m    *Machine
	once sync.Once
}

// C returns the signal channel. It is never closed.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s)
		s.m.mu.Unlock()
	})
}

func (s *Subscription) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
