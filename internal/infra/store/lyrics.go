package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
)

// LyricStore persists the ordered lyric lines of each track.
type LyricStore struct {
	db *DB
}

// NewLyricStore creates a lyric store on db.
func NewLyricStore(db *DB) *LyricStore {
	return &LyricStore{db: db}
}

// GetLyrics returns the lines of a track ordered by line number. A track
// without lyrics yields an empty slice.
func (s *LyricStore) GetLyrics(ctx context.Context, trackID string) ([]lyrics.Line, error) {
	db := s.db.DB()
	if db == nil {
		return nil, errNotOpen
	}

	rows, err := db.QueryContext(ctx, `
		SELECT line_number, start_time, end_time, text, is_chorus
		FROM lyric_lines WHERE track_id = ?
		ORDER BY line_number
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("query lyrics for %s: %w", trackID, err)
	}
	defer rows.Close()

	lines := []lyrics.Line{}
	for rows.Next() {
		var (
			line       lyrics.Line
			start, end sql.NullFloat64
		)
		if err := rows.Scan(&line.LineNumber, &start, &end, &line.Text, &line.IsChorus); err != nil {
			return nil, err
		}
		line.Start = fromNull(start)
		line.End = fromNull(end)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ReplaceLyrics replaces every line of a track in one transaction. Line
// numbers are stored as given.
func (s *LyricStore) ReplaceLyrics(ctx context.Context, trackID string, lines []lyrics.Line) error {
	db := s.db.DB()
	if db == nil {
		return errNotOpen
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM lyric_lines WHERE track_id = ?", trackID); err != nil {
		return fmt.Errorf("clear lyrics for %s: %w", trackID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lyric_lines (track_id, line_number, start_time, end_time, text, is_chorus)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, line := range lyrics.Clamp(lines) {
		if _, err := stmt.ExecContext(ctx, trackID, line.LineNumber, toNull(line.Start), toNull(line.End), line.Text, line.IsChorus); err != nil {
			return fmt.Errorf("insert line %d for %s: %w", line.LineNumber, trackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lyrics for %s: %w", trackID, err)
	}

	log.Debug().Str("track", trackID).Int("lines", len(lines)).Msg("Lyrics replaced")
	return nil
}

// DeleteLyrics removes every line of a track.
func (s *LyricStore) DeleteLyrics(ctx context.Context, trackID string) error {
	db := s.db.DB()
	if db == nil {
		return errNotOpen
	}

	res, err := db.ExecContext(ctx, "DELETE FROM lyric_lines WHERE track_id = ?", trackID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TrackIDs lists the tracks that have stored lyrics.
func (s *LyricStore) TrackIDs(ctx context.Context) ([]string, error) {
	db := s.db.DB()
	if db == nil {
		return nil, errNotOpen
	}

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT track_id FROM lyric_lines ORDER BY track_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func toNull(t lyrics.Time) sql.NullFloat64 {
	return sql.NullFloat64{Float64: t.Seconds, Valid: t.Valid}
}

func fromNull(v sql.NullFloat64) lyrics.Time {
	if !v.Valid {
		return lyrics.Time{}
	}
	return lyrics.At(v.Float64)
}
