// Package timing implements the admin lyric timing editor: stamping line start
// times against live playback and deriving end times.
package timing

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
)

// StampFlash is how long a line reports Stamped after being stamped.
const StampFlash = 600 * time.Millisecond

// InsertSpan is the default length of a line seeded by InsertLine.
const InsertSpan = 10.0

// Clock reports the live playback position.
type Clock interface {
	Position() (seconds float64, loaded bool)
}

// State is a copy of the editor state for presentation.
type State struct {
	TrackID   string        `json:"trackId"`
	Lines     []lyrics.Line `json:"lines"`
	Overrides []int         `json:"overrides"`
	Cursor    int           `json:"cursor"`
	Duration  float64       `json:"duration"`
	Stamped   int           `json:"stamped"` // -1 when no flash is showing
}

// Editor holds the lines being timed, the set of manually overridden end times
// and the stamping cursor. It is safe for concurrent use.
type Editor struct {
	mu sync.Mutex

	trackID   string
	clock     Clock
	now       func() time.Time
	lines     []lyrics.Line
	overrides map[int]struct{}
	cursor    int
	duration  float64

	stampedIndex int
	stampedAt    time.Time
}

// Option configures an Editor.
type Option func(*Editor)

// WithNow sets the wall clock used for the stamp flash.
func WithNow(now func() time.Time) Option {
	return func(e *Editor) {
		e.now = now
	}
}

// NewEditor creates an empty editor for trackID reading positions from clock.
func NewEditor(trackID string, clock Clock, opts ...Option) *Editor {
	e := &Editor{
		trackID:      trackID,
		clock:        clock,
		now:          time.Now,
		overrides:    make(map[int]struct{}),
		stampedIndex: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TrackID returns the track being edited.
func (e *Editor) TrackID() string {
	return e.trackID
}

func (e *Editor) inRange(i int) bool {
	return i >= 0 && i < len(e.lines)
}

// Load replaces the lines with stored ones and sets the track duration.
// Overrides are cleared.
func (e *Editor) Load(lines []lyrics.Line, duration float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lines = slices.Clone(lines)
	lyrics.Renumber(e.lines)
	e.overrides = make(map[int]struct{})
	e.cursor = 0
	e.duration = duration
	e.stampedIndex = -1

	log.Debug().Str("track", e.trackID).Int("lines", len(lines)).Float64("duration", duration).Msg("Timing editor loaded")
}

// SetDuration sets the total track duration used for the last line's end.
// It takes effect on the next recalculation.
func (e *Editor) SetDuration(d float64) {
	if d < 0 || math.IsNaN(d) {
		return
	}
	e.mu.Lock()
	e.duration = d
	e.mu.Unlock()
}

// Stamp sets line i's start to the live playback position rounded to a tenth
// of a second, recalculates end times and advances the cursor. It reports
// whether anything was stamped: nothing is when no audio is loaded or i is
// out of range.
func (e *Editor) Stamp(i int) bool {
	pos, loaded := e.clock.Position()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !loaded || !e.inRange(i) {
		log.Debug().Int("index", i).Bool("loaded", loaded).Msg("Stamp ignored")
		return false
	}

	e.lines[i].Start = lyrics.At(math.Round(pos*10) / 10)
	e.recalculate()
	if i+1 < len(e.lines) {
		e.cursor = i + 1
	}
	e.stampedIndex = i
	e.stampedAt = e.now()

	log.Debug().Int("index", i).Str("start", e.lines[i].Start.String()).Msg("Stamped line")
	return true
}

// Stamped reports whether line i was stamped within the last StampFlash.
func (e *Editor) Stamped(i int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stampedLocked() == i && i >= 0
}

func (e *Editor) stampedLocked() int {
	if e.stampedIndex < 0 || e.now().Sub(e.stampedAt) >= StampFlash {
		return -1
	}
	return e.stampedIndex
}

// RecalculateEndTimes derives end times for every line not overridden.
func (e *Editor) RecalculateEndTimes() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recalculate()
}

// recalculate sets each non-overridden end to the next line's start when set,
// or to the duration for a last line whose start is set. The last line is
// left alone while the duration is unknown (must hold lock).
func (e *Editor) recalculate() {
	last := len(e.lines) - 1
	for i := range e.lines {
		if _, pinned := e.overrides[i]; pinned {
			continue
		}
		if i < last {
			if next := e.lines[i+1].Start; next.Valid {
				e.lines[i].End = next
			}
			continue
		}
		if e.lines[i].Start.Valid && e.duration > 0 {
			e.lines[i].End = lyrics.At(e.duration)
		}
	}
}

// SetStartTime sets line i's start directly and recalculates end times.
// A negative value unsets the start.
func (e *Editor) SetStartTime(i int, v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inRange(i) {
		return
	}
	e.lines[i].Start = lyrics.At(v)
	e.recalculate()
}

// SetEndTime pins line i's end to v. The line is excluded from recalculation
// until all times are cleared.
func (e *Editor) SetEndTime(i int, v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inRange(i) {
		return
	}
	e.overrides[i] = struct{}{}
	e.lines[i].End = lyrics.At(v)
}

// SetText replaces line i's text.
func (e *Editor) SetText(i int, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inRange(i) {
		e.lines[i].Text = text
	}
}

// SetChorus sets line i's chorus flag.
func (e *Editor) SetChorus(i int, chorus bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inRange(i) {
		e.lines[i].IsChorus = chorus
	}
}

// SetCursor moves the stamping cursor.
func (e *Editor) SetCursor(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inRange(i) {
		e.cursor = i
	}
}

// InsertLine appends a line. When the current last line has an end time the
// new line starts there and spans InsertSpan seconds, otherwise it is untimed.
func (e *Editor) InsertLine() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insertAt(len(e.lines))
}

// InsertLineAt inserts an untimed line before index i (i == len appends like
// InsertLine). Overrides at or after i move with their lines.
func (e *Editor) InsertLineAt(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i < 0 || i > len(e.lines) {
		return
	}
	e.insertAt(i)
}

func (e *Editor) insertAt(i int) {
	line := lyrics.Line{}
	if i == len(e.lines) && i > 0 {
		if prev := e.lines[i-1].End; prev.Valid {
			line.Start = prev
			line.End = lyrics.At(prev.Seconds + InsertSpan)
		}
	}

	e.lines = slices.Insert(e.lines, i, line)
	e.overrides = shiftKeys(e.overrides, func(k int) (int, bool) {
		if k >= i {
			return k + 1, true
		}
		return k, true
	})
	if e.cursor >= i && i < len(e.lines)-1 {
		e.cursor++
	}
	lyrics.Renumber(e.lines)

	log.Debug().Int("index", i).Int("lines", len(e.lines)).Msg("Inserted line")
}

// RemoveLine deletes line i. Its override is dropped and overrides after it
// shift down by one.
func (e *Editor) RemoveLine(i int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inRange(i) {
		return
	}

	e.lines = slices.Delete(e.lines, i, i+1)
	e.overrides = shiftKeys(e.overrides, func(k int) (int, bool) {
		switch {
		case k == i:
			return 0, false
		case k > i:
			return k - 1, true
		}
		return k, true
	})
	if e.cursor > i {
		e.cursor--
	}
	e.cursor = max(min(e.cursor, len(e.lines)-1), 0)
	lyrics.Renumber(e.lines)

	log.Debug().Int("index", i).Int("lines", len(e.lines)).Msg("Removed line")
}

// MoveLine moves line from to position to. Override membership travels with
// the line.
func (e *Editor) MoveLine(from, to int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.inRange(from) || !e.inRange(to) || from == to {
		return
	}

	pinned := make([]bool, len(e.lines))
	for k := range e.overrides {
		pinned[k] = true
	}

	line, pin := e.lines[from], pinned[from]
	e.lines = slices.Insert(slices.Delete(e.lines, from, from+1), to, line)
	pinned = slices.Insert(slices.Delete(pinned, from, from+1), to, pin)

	e.overrides = make(map[int]struct{})
	for k, p := range pinned {
		if p {
			e.overrides[k] = struct{}{}
		}
	}
	lyrics.Renumber(e.lines)

	log.Debug().Int("from", from).Int("to", to).Msg("Moved line")
}

// ClearAllTimes unsets every start and end and clears all overrides.
func (e *Editor) ClearAllTimes() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.lines {
		e.lines[i].Start = lyrics.Time{}
		e.lines[i].End = lyrics.Time{}
	}
	e.overrides = make(map[int]struct{})
	e.cursor = 0
}

// ImportFromText replaces all lines with one untimed line per non-empty input
// line, discarding overrides.
func (e *Editor) ImportFromText(raw string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lines = lyrics.FromText(raw)
	e.overrides = make(map[int]struct{})
	e.cursor = 0
	e.stampedIndex = -1

	log.Debug().Str("track", e.trackID).Int("lines", len(e.lines)).Msg("Imported lyric text")
}

// Persist returns the lines to save: unset and negative times become 0 and
// line numbers follow slice order.
func (e *Editor) Persist() []lyrics.Line {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := lyrics.Clamp(e.lines)
	lyrics.Renumber(out)
	return out
}

// Lines returns a copy of the current lines.
func (e *Editor) Lines() []lyrics.Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.lines)
}

// Overrides returns the overridden line indices in ascending order.
func (e *Editor) Overrides() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overrideList()
}

func (e *Editor) overrideList() []int {
	keys := lo.Keys(e.overrides)
	slices.Sort(keys)
	return keys
}

// Cursor returns the stamping cursor.
func (e *Editor) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// State returns a copy of the editor state.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return State{
		TrackID:   e.trackID,
		Lines:     slices.Clone(e.lines),
		Overrides: e.overrideList(),
		Cursor:    e.cursor,
		Duration:  e.duration,
		Stamped:   e.stampedLocked(),
	}
}

// shiftKeys rebuilds an index set through remap, dropping keys it rejects.
func shiftKeys(set map[int]struct{}, remap func(int) (int, bool)) map[int]struct{} {
	out := make(map[int]struct{}, len(set))
	for k := range set {
		if nk, keep := remap(k); keep {
			out[nk] = struct{}{}
		}
	}
	return out
}
