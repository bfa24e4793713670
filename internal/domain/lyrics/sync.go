package lyrics

// ActiveIndex returns the index of the last line whose start time is set and
// not after t, or -1 when no line qualifies. Lines are expected in ascending
// start order.
func ActiveIndex(lines []Line, t float64) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Start.Valid && lines[i].Start.Seconds <= t {
			return i
		}
	}
	return -1
}

// Follower tracks the active line across position updates so callers only
// react when it changes. It is not safe for concurrent use.
type Follower struct {
	lines  []Line
	active int
}

// NewFollower creates a follower over lines. A nil or empty list means no
// lyrics are available and the active index stays -1.
func NewFollower(lines []Line) *Follower {
	return &Follower{lines: lines, active: -1}
}

// Update recomputes the active index for position t and reports whether it changed.
func (f *Follower) Update(t float64) (int, bool) {
	idx := ActiveIndex(f.lines, t)
	if idx == f.active {
		return idx, false
	}
	f.active = idx
	return idx, true
}

// Empty reports whether there are no lyrics to follow.
func (f *Follower) Empty() bool {
	return len(f.lines) == 0
}
