// Package lyrics models timed lyric lines and derives the active line from a
// playback position.
package lyrics

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Time is an optional position in seconds. The zero value is unset.
type Time struct {
	Seconds float64
	Valid   bool
}

// At returns a set Time. Negative or non-finite values yield an unset Time.
func At(seconds float64) Time {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Time{}
	}
	return Time{Seconds: seconds, Valid: true}
}

// Clamped returns the value to persist: unset becomes 0.
func (t Time) Clamped() float64 {
	if !t.Valid || t.Seconds < 0 {
		return 0
	}
	return t.Seconds
}

func (t Time) String() string {
	if !t.Valid {
		return "-"
	}
	return strconv.FormatFloat(t.Seconds, 'f', -1, 64)
}

// MarshalJSON encodes an unset Time as null.
func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Seconds)
}

// UnmarshalJSON decodes null and negative numbers as unset.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = Time{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = At(v)
	return nil
}

// Line is one lyric line of a track.
type Line struct {
	LineNumber int    `json:"lineNumber"` // 1-based, dense
	Start      Time   `json:"startTime"`
	End        Time   `json:"endTime"`
	Text       string `json:"text"`
	IsChorus   bool   `json:"isChorus"`
}

// Clamp returns a copy of lines in stored form: unset and negative times become 0.
func Clamp(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.Start = Time{Seconds: l.Start.Clamped(), Valid: true}
		l.End = Time{Seconds: l.End.Clamped(), Valid: true}
		out[i] = l
	}
	return out
}

// Renumber assigns dense 1-based line numbers in slice order.
func Renumber(lines []Line) {
	for i := range lines {
		lines[i].LineNumber = i + 1
	}
}
