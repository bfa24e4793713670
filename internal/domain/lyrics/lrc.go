package lyrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// chorusMarker prefixes chorus lines in exported LRC text.
const chorusMarker = "(C) "

var (
	lrcTimeTag = regexp.MustCompile(`^\[(\d{1,3}):(\d{1,2}(?:\.\d{1,3})?)\]`)
	lrcMetaTag = regexp.MustCompile(`^\[[a-zA-Z]+:.*\]$`)
)

// FromText builds one untimed line per non-empty input line.
func FromText(raw string) []Line {
	texts := lo.FilterMap(strings.Split(raw, "\n"), func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})

	lines := make([]Line, len(texts))
	for i, text := range texts {
		lines[i] = Line{LineNumber: i + 1, Text: text}
	}
	return lines
}

// FormatLRC writes lines as LRC. Untimed lines are written without a time tag.
func FormatLRC(w io.Writer, lines []Line) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		text := l.Text
		if l.IsChorus {
			text = chorusMarker + text
		}
		if l.Start.Valid {
			if _, err := fmt.Fprintf(bw, "[%s]%s\n", formatStamp(l.Start.Seconds), text); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintln(bw, text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatStamp(seconds float64) string {
	centis := int(math.Round(seconds * 100))
	return fmt.Sprintf("%02d:%02d.%02d", centis/6000, (centis/100)%60, centis%100)
}

type lrcEntry struct {
	start  Time
	text   string
	chorus bool
}

// ParseLRC reads LRC text. Metadata tags are skipped, a line carrying several
// time tags yields one line per tag, and lines without a tag stay untimed.
// Fully timed files are sorted by start; each end is set to the following start.
func ParseLRC(r io.Reader) ([]Line, error) {
	var entries []lrcEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || lrcMetaTag.MatchString(raw) {
			continue
		}

		var starts []Time
		for {
			m := lrcTimeTag.FindStringSubmatch(raw)
			if m == nil {
				break
			}
			mins, _ := strconv.Atoi(m[1])
			secs, _ := strconv.ParseFloat(m[2], 64)
			starts = append(starts, At(float64(mins)*60+secs))
			raw = raw[len(m[0]):]
		}

		text := strings.TrimSpace(raw)
		chorus := strings.HasPrefix(text, chorusMarker)
		text = strings.TrimPrefix(text, chorusMarker)
		if len(starts) == 0 {
			starts = []Time{{}}
		}
		for _, s := range starts {
			entries = append(entries, lrcEntry{start: s, text: text, chorus: chorus})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lrc: %w", err)
	}

	// Files mixing timed and untimed lines keep their order.
	if lo.EveryBy(entries, func(e lrcEntry) bool { return e.start.Valid }) {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].start.Seconds < entries[j].start.Seconds
		})
	}

	lines := make([]Line, len(entries))
	for i, e := range entries {
		lines[i] = Line{LineNumber: i + 1, Start: e.start, Text: e.text, IsChorus: e.chorus}
	}
	for i := 0; i+1 < len(lines); i++ {
		if lines[i].Start.Valid && lines[i+1].Start.Valid {
			lines[i].End = lines[i+1].Start
		}
	}
	return lines, nil
}
