package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
	"github.com/edumarques81/hymnal-backend/internal/infra/store"
)

func newLyricsCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lyrics",
		Short: "Manage stored lyrics",
	}
	cmd.AddCommand(
		newLyricsImportCmd(cfg),
		newLyricsShowCmd(cfg),
		newLyricsExportCmd(cfg),
		newLyricsListCmd(cfg),
	)
	return cmd
}

// withLyricStore opens the database for the duration of fn.
func withLyricStore(cfg *Config, fn func(s *store.LyricStore) error) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(store.NewLyricStore(db))
}

// readLyricsFile parses an .lrc file, or plain text with one line per lyric line.
func readLyricsFile(path string) ([]lyrics.Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".lrc") {
		return lyrics.ParseLRC(f)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return lyrics.FromText(string(data)), nil
}

func newLyricsImportCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import <trackID> <file>",
		Short: "Replace the lyrics of a track from a text or .lrc file",
		Long: `Replace the lyrics of a track.
Plain text files yield one untimed line per non-empty line.
Files ending in .lrc keep their [mm:ss.xx] start times.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trackID, path := args[0], args[1]
			lines, err := readLyricsFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			if len(lines) == 0 {
				return fmt.Errorf("%s contains no lyric lines", path)
			}

			return withLyricStore(cfg, func(s *store.LyricStore) error {
				if err := s.ReplaceLyrics(cmd.Context(), trackID, lines); err != nil {
					return err
				}
				log.Info().Str("track", trackID).Int("lines", len(lines)).Msg("Lyrics imported")
				return nil
			})
		},
	}
}

func newLyricsShowCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show <trackID>",
		Short: "Print the lyrics of a track as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLyricStore(cfg, func(s *store.LyricStore) error {
				lines, err := s.GetLyrics(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(lines) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No lyrics stored for %s\n", args[0])
					return nil
				}
				renderLines(cmd.OutOrStdout(), lines, -1)
				return nil
			})
		},
	}
}

func newLyricsExportCmd(cfg *Config) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <trackID>",
		Short: "Write the lyrics of a track as LRC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLyricStore(cfg, func(s *store.LyricStore) error {
				lines, err := s.GetLyrics(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(lines) == 0 {
					return fmt.Errorf("no lyrics stored for %s", args[0])
				}

				w := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return lyrics.FormatLRC(w, lines)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func newLyricsListCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracks with stored lyrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLyricStore(cfg, func(s *store.LyricStore) error {
				return listLyrics(cmd.Context(), cmd.OutOrStdout(), s)
			})
		},
	}
}

func listLyrics(ctx context.Context, w io.Writer, s *store.LyricStore) error {
	ids, err := s.TrackIDs(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Track", "Lines", "Timed"})
	for _, id := range ids {
		lines, err := s.GetLyrics(ctx, id)
		if err != nil {
			return err
		}
		timed := 0
		for _, l := range lines {
			if l.Start.Valid && l.Start.Seconds > 0 {
				timed++
			}
		}
		t.AppendRow(table.Row{id, len(lines), timed})
	}
	t.Render()
	return nil
}

// renderLines prints lines as a table, marking row cursor when it is in range.
func renderLines(w io.Writer, lines []lyrics.Line, cursor int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "#", "Start", "End", "Chorus", "Text"})
	for i, l := range lines {
		mark := ""
		if i == cursor {
			mark = ">"
		}
		chorus := ""
		if l.IsChorus {
			chorus = "*"
		}
		t.AppendRow(table.Row{mark, l.LineNumber, l.Start.String(), l.End.String(), chorus, l.Text})
	}
	t.Render()
}
