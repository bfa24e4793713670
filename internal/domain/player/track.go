package player

import "fmt"

// Track is a playable unit as supplied by the track resolver. The player never mutates it.
type Track struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	AudioURL  string  `json:"audioUrl,omitempty"` // Empty when no real media exists
	Duration  float64 `json:"duration"`           // Stored duration in seconds
	HasVideo  bool    `json:"hasVideo"`
	HasLyrics bool    `json:"hasLyrics"`
}

// HasMedia reports whether the track carries a real audio source.
func (t Track) HasMedia() bool {
	return t.AudioURL != ""
}

// RepeatMode controls what happens when the queue advances.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// Next returns the following mode in the cycle off -> all -> one -> off.
func (r RepeatMode) Next() RepeatMode {
	switch r {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// ParseRepeatMode converts a client-supplied string into a RepeatMode.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch RepeatMode(s) {
	case RepeatOff, RepeatAll, RepeatOne:
		return RepeatMode(s), nil
	case "":
		return RepeatOff, nil
	}
	return RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
}
