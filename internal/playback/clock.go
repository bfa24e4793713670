package playback

import "github.com/edumarques81/hymnal-backend/internal/domain/player"

// TrackClock reports the machine position only while trackID is the current
// track, so stamping another track's audio is a no-op.
type TrackClock struct {
	Machine *player.Machine
	TrackID string
	// Loaded, when set, must also report the track as loaded (see Driver.Loaded).
	Loaded func(trackID string) bool
}

// Position implements timing.Clock.
func (c TrackClock) Position() (float64, bool) {
	s := c.Machine.Snapshot()
	if s.TrackID() != c.TrackID {
		return 0, false
	}
	if c.Loaded != nil && !c.Loaded(c.TrackID) {
		return 0, false
	}
	return s.CurrentTime, true
}
