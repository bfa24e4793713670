package store

import (
	"context"
	"database/sql"
	"time"
)

// PlayCounts stores how often each track was loaded for playback.
type PlayCounts struct {
	db *DB
}

// NewPlayCounts creates a play-count table accessor on db.
func NewPlayCounts(db *DB) *PlayCounts {
	return &PlayCounts{db: db}
}

// Increment adds one play to a track and records the time.
func (p *PlayCounts) Increment(ctx context.Context, trackID string) error {
	db := p.db.DB()
	if db == nil {
		return errNotOpen
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(ctx, `
		INSERT INTO play_counts (track_id, count, last_played) VALUES (?, 1, ?)
		ON CONFLICT(track_id) DO UPDATE SET count = count + 1, last_played = excluded.last_played
	`, trackID, now)
	return err
}

// Count returns the number of plays of a track, zero when never played.
func (p *PlayCounts) Count(ctx context.Context, trackID string) (int64, error) {
	db := p.db.DB()
	if db == nil {
		return 0, errNotOpen
	}

	var count int64
	err := db.QueryRowContext(ctx, "SELECT count FROM play_counts WHERE track_id = ?", trackID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// LastPlayed returns when a track was last played, or ErrNotFound.
func (p *PlayCounts) LastPlayed(ctx context.Context, trackID string) (time.Time, error) {
	db := p.db.DB()
	if db == nil {
		return time.Time{}, errNotOpen
	}

	var raw sql.NullString
	err := db.QueryRowContext(ctx, "SELECT last_played FROM play_counts WHERE track_id = ?", trackID).Scan(&raw)
	if err == sql.ErrNoRows || (err == nil && !raw.Valid) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, raw.String)
}
