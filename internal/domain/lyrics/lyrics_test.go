package lyrics_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
)

func timedLines(starts ...float64) []lyrics.Line {
	lines := make([]lyrics.Line, len(starts))
	for i, s := range starts {
		lines[i] = lyrics.Line{LineNumber: i + 1, Start: lyrics.At(s)}
	}
	return lines
}

func TestActiveIndex(t *testing.T) {
	lines := timedLines(0.5, 10, 25)

	tests := []struct {
		name string
		t    float64
		want int
	}{
		{"before first line", 0.2, -1},
		{"exactly first start", 0.5, 0},
		{"between", 9.9, 0},
		{"second", 10, 1},
		{"past last", 300, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lyrics.ActiveIndex(lines, tt.t); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	if got := lyrics.ActiveIndex(nil, 5); got != -1 {
		t.Errorf("expected -1 for empty list, got %d", got)
	}
}

func TestActiveIndexSkipsUnsetStarts(t *testing.T) {
	lines := timedLines(0, 10, 20)
	lines[2].Start = lyrics.Time{}

	if got := lyrics.ActiveIndex(lines, 30); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func TestActiveIndexMonotonic(t *testing.T) {
	lines := timedLines(0, 3.2, 3.2, 7, 12.5, 30)

	prev := -1
	for step := 0; step <= 160; step++ {
		pos := float64(step) * 0.25
		idx := lyrics.ActiveIndex(lines, pos)
		if idx < prev {
			t.Fatalf("active index went back from %d to %d at %.2fs", prev, idx, pos)
		}
		prev = idx
	}
}

func TestFollower(t *testing.T) {
	f := lyrics.NewFollower(timedLines(0, 10, 25))

	steps := []struct {
		t           float64
		wantIndex   int
		wantChanged bool
	}{
		{0, 0, true},
		{0.25, 0, false},
		{9.75, 0, false},
		{10, 1, true},
		{2, 0, true}, // seek back
		{26, 2, true},
	}
	for _, s := range steps {
		idx, changed := f.Update(s.t)
		if idx != s.wantIndex || changed != s.wantChanged {
			t.Errorf("Update(%v): expected (%d, %v), got (%d, %v)",
				s.t, s.wantIndex, s.wantChanged, idx, changed)
		}
	}
}

func TestFollowerWithoutLyrics(t *testing.T) {
	f := lyrics.NewFollower(nil)
	if !f.Empty() {
		t.Error("expected empty follower")
	}
	if idx, changed := f.Update(12); idx != -1 || changed {
		t.Errorf("expected (-1, false), got (%d, %v)", idx, changed)
	}
}

func TestTimeJSON(t *testing.T) {
	line := lyrics.Line{LineNumber: 1, Start: lyrics.At(1.5), Text: "a"}
	data, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"startTime":1.5`) || !strings.Contains(string(data), `"endTime":null`) {
		t.Errorf("unexpected encoding %s", data)
	}

	var decoded lyrics.Line
	if err := json.Unmarshal([]byte(`{"lineNumber":2,"startTime":-1,"endTime":4,"text":"b"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Start.Valid {
		t.Error("expected negative start to decode as unset")
	}
	if !decoded.End.Valid || decoded.End.Seconds != 4 {
		t.Errorf("expected end 4, got %v", decoded.End)
	}
}

func TestTimeClamped(t *testing.T) {
	if got := (lyrics.Time{}).Clamped(); got != 0 {
		t.Errorf("expected unset to clamp to 0, got %v", got)
	}
	if got := lyrics.At(3.3).Clamped(); got != 3.3 {
		t.Errorf("expected 3.3, got %v", got)
	}
	if lyrics.At(-2).Valid {
		t.Error("expected negative time to be unset")
	}
}

func TestFromText(t *testing.T) {
	lines := lyrics.FromText("Amazing grace\n\n  how sweet the sound \r\n\nthat saved")

	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[1].Text != "how sweet the sound" {
		t.Errorf("expected trimmed text, got %q", lines[1].Text)
	}
	for i, l := range lines {
		if l.LineNumber != i+1 {
			t.Errorf("line %d: expected number %d, got %d", i, i+1, l.LineNumber)
		}
		if l.Start.Valid || l.End.Valid {
			t.Errorf("line %d: expected unset times", i)
		}
	}
}

func TestLRCRoundTrip(t *testing.T) {
	lines := []lyrics.Line{
		{LineNumber: 1, Start: lyrics.At(0), End: lyrics.At(12.4), Text: "Verse one"},
		{LineNumber: 2, Start: lyrics.At(12.4), End: lyrics.At(75.25), Text: "Refrain", IsChorus: true},
		{LineNumber: 3, Start: lyrics.At(75.25), Text: "Verse two"},
	}

	var buf bytes.Buffer
	if err := lyrics.FormatLRC(&buf, lines); err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(buf.String(), "[01:15.25]Verse two") {
		t.Errorf("unexpected lrc output:\n%s", buf.String())
	}

	parsed, err := lyrics.ParseLRC(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != len(lines) {
		t.Fatalf("expected %d lines, got %d", len(lines), len(parsed))
	}
	for i := range lines {
		if parsed[i] != lines[i] {
			t.Errorf("line %d: expected %+v, got %+v", i, lines[i], parsed[i])
		}
	}
}

func TestParseLRC(t *testing.T) {
	src := `[ar:Traditional]
[ti:Hymn]
[00:20.00]third
[00:05.50][00:12.00]repeated

`
	lines, err := lyrics.ParseLRC(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := []struct {
		start float64
		text  string
	}{
		{5.5, "repeated"},
		{12, "repeated"},
		{20, "third"},
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(lines))
	}
	for i, w := range want {
		if lines[i].Start.Seconds != w.start || lines[i].Text != w.text {
			t.Errorf("line %d: expected %v %q, got %v %q", i, w.start, w.text, lines[i].Start, lines[i].Text)
		}
	}
	if lines[0].End != lyrics.At(12) {
		t.Errorf("expected first end 12, got %v", lines[0].End)
	}
	if lines[2].End.Valid {
		t.Error("expected last end unset")
	}
}

func TestParseLRCUntimed(t *testing.T) {
	lines, err := lyrics.ParseLRC(strings.NewReader("one\n[00:03.00]two\nthree\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(lines) != 3 || lines[0].Text != "one" || lines[2].Text != "three" {
		t.Fatalf("expected file order kept, got %+v", lines)
	}
	if lines[0].Start.Valid || !lines[1].Start.Valid {
		t.Error("expected only the tagged line to be timed")
	}
}
