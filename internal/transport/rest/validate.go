package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
)

var errBadLines = errors.New("invalid lyrics")

// requiredLineFields must be present and non-null on every submitted line.
var requiredLineFields = []string{"lineNumber", "startTime", "endTime", "text"}

type linesBody struct {
	Lines []map[string]json.RawMessage `json:"lines"`
}

// decodeLines validates a PUT body of the form {"lines": [...]} and returns
// the lines ordered by line number. lyrics.Time decodes null as unset, so
// presence is checked on the raw objects first.
func decodeLines(body []byte) ([]lyrics.Line, error) {
	var raw linesBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadLines, err)
	}
	if raw.Lines == nil {
		return nil, fmt.Errorf("%w: lines required", errBadLines)
	}

	lines := make([]lyrics.Line, 0, len(raw.Lines))
	for i, obj := range raw.Lines {
		for _, field := range requiredLineFields {
			v, ok := obj[field]
			if !ok || string(v) == "null" {
				return nil, fmt.Errorf("%w: line %d: %s required", errBadLines, i, field)
			}
		}

		var n float64
		if err := json.Unmarshal(obj["lineNumber"], &n); err != nil || n < 1 || n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: line %d: lineNumber must be a positive integer", errBadLines, i)
		}

		var line lyrics.Line
		if err := json.Unmarshal(mustMarshal(obj), &line); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errBadLines, i, err)
		}
		lines = append(lines, line)
	}

	if dups := lo.FindDuplicatesBy(lines, func(l lyrics.Line) int { return l.LineNumber }); len(dups) > 0 {
		return nil, fmt.Errorf("%w: duplicate lineNumber %d", errBadLines, dups[0].LineNumber)
	}
	slices.SortFunc(lines, func(a, b lyrics.Line) int { return a.LineNumber - b.LineNumber })
	lyrics.Renumber(lines)
	return lyrics.Clamp(lines), nil
}

func mustMarshal(obj map[string]json.RawMessage) []byte {
	data, _ := json.Marshal(obj)
	return data
}
