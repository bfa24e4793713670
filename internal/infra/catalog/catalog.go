// Package catalog resolves track ids to playable tracks.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/sosodev/duration"

	"github.com/edumarques81/hymnal-backend/internal/domain/player"
)

// ErrTrackNotFound is returned for unknown track ids.
var ErrTrackNotFound = errors.New("track not found")

// Resolver looks up tracks.
type Resolver interface {
	Track(ctx context.Context, id string) (player.Track, error)
	Tracks(ctx context.Context) ([]player.Track, error)
}

// Resolve maps ids to tracks in order, failing on the first unknown id.
func Resolve(ctx context.Context, r Resolver, ids []string) ([]player.Track, error) {
	tracks := make([]player.Track, 0, len(ids))
	for _, id := range ids {
		t, err := r.Track(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", id, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Seconds is a track duration that decodes from a number of seconds or an
// ISO-8601 duration string such as "PT3M5S".
type Seconds float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		d, err := duration.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*s = Seconds(d.ToTimeDuration().Seconds())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Seconds(f)
	return nil
}

// entry is the wire form of a track.
type entry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	AudioURL  string  `json:"audioUrl"`
	Duration  Seconds `json:"duration"`
	HasVideo  bool    `json:"hasVideo"`
	HasLyrics bool    `json:"hasLyrics"`
}

func (e entry) track() player.Track {
	return player.Track{
		ID:        e.ID,
		Title:     e.Title,
		Artist:    e.Artist,
		AudioURL:  e.AudioURL,
		Duration:  max(float64(e.Duration), 0),
		HasVideo:  e.HasVideo,
		HasLyrics: e.HasLyrics,
	}
}

type document struct {
	Tracks []entry `json:"tracks"`
}

// decode parses a catalog document, rejecting entries without an id and
// duplicate ids.
func decode(data []byte) ([]player.Track, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	for i, e := range doc.Tracks {
		if e.ID == "" {
			return nil, fmt.Errorf("parse catalog: track %d has no id", i)
		}
	}
	if dups := lo.FindDuplicatesBy(doc.Tracks, func(e entry) string { return e.ID }); len(dups) > 0 {
		return nil, fmt.Errorf("parse catalog: duplicate track id %q", dups[0].ID)
	}

	return lo.Map(doc.Tracks, func(e entry, _ int) player.Track { return e.track() }), nil
}
