package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
	"github.com/edumarques81/hymnal-backend/internal/domain/player"
	"github.com/edumarques81/hymnal-backend/internal/domain/timing"
	"github.com/edumarques81/hymnal-backend/internal/infra/store"
	"github.com/edumarques81/hymnal-backend/internal/playback"
)

const timingHelp = `Commands (line numbers are 1-based):
  <enter> | s [n]     stamp line n (default: cursor) at the playback position
  p                   toggle play/pause
  seek <sec>          move playback to sec
  start <n> <sec>     set start time
  end <n> <sec>       pin end time
  text <n> <text>     replace text
  chorus <n>          toggle chorus flag
  ins [n]             insert a line before n (default: append)
  rm <n>              remove line
  mv <from> <to>      move line
  cursor <n>          move the stamping cursor
  clear               clear all times
  recalc              recalculate end times
  import <file>       replace lines from a text or .lrc file
  ls                  show lines
  save                persist lines
  q                   quit`

var errQuit = errors.New("quit")

// lyricSaver persists the edited lines.
type lyricSaver interface {
	ReplaceLyrics(ctx context.Context, trackID string, lines []lyrics.Line) error
}

// timingREPL executes stamper commands against an editor.
type timingREPL struct {
	trackID string
	editor  *timing.Editor
	machine *player.Machine
	saver   lyricSaver
	out     io.Writer
	dirty   bool
}

func newTimingCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "timing <trackID>",
		Short: "Interactively stamp lyric start times while the track plays",
		Long:  "Plays the track on the configured output and stamps lyric lines from the keyboard.\n\n" + timingHelp,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTiming(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}
}

func runTiming(ctx context.Context, cfg *Config, trackID string, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	lyricStore := store.NewLyricStore(db)

	resolver, closer, err := openCatalog(cfg, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	track, err := resolver.Track(ctx, trackID)
	if err != nil {
		return err
	}
	lines, err := lyricStore.GetLyrics(ctx, trackID)
	if err != nil {
		return err
	}

	machine := player.NewMachine()
	var driverOpts []playback.Option
	if o, err := openOutput(cfg); err != nil {
		log.Warn().Err(err).Msg("Audio output unavailable, using simulated playback")
	} else if o != nil {
		driverOpts = append(driverOpts, playback.WithOutput(o))
	}

	driver := playback.NewDriver(machine, driverOpts...)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		driver.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	editor := timing.NewEditor(trackID, playback.TrackClock{Machine: machine, TrackID: trackID, Loaded: driver.Loaded})
	editor.Load(lines, track.Duration)
	machine.SetQueue([]player.Track{track}, 0)
	machine.Pause()

	repl := &timingREPL{
		trackID: trackID,
		editor:  editor,
		machine: machine,
		saver:   lyricStore,
		out:     out,
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", trackID),
		InterruptPrompt: "^C",
		EOFPrompt:       "q",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintf(out, "Timing %q (%s). Type help for commands.\n", track.Title, trackID)
	repl.show()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := repl.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	if repl.dirty {
		fmt.Fprintln(out, "Unsaved changes discarded")
	}
	return nil
}

// exec runs one command line.
func (r *timingREPL) exec(ctx context.Context, line string) error {
	if snap := r.machine.Snapshot(); snap.TrackID() == r.trackID && snap.Duration > 0 {
		r.editor.SetDuration(snap.Duration)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		fields = []string{"s"}
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(r.out, timingHelp)
		return nil
	case "q", "quit", "exit":
		return errQuit
	case "ls", "list":
		r.show()
		return nil
	case "p", "play", "pause":
		r.machine.TogglePlay()
		return nil
	case "seek":
		v, err := floatArg(args, 0)
		if err != nil {
			return err
		}
		r.machine.SeekTo(v)
		return nil
	case "save":
		lines := r.editor.Persist()
		if err := r.saver.ReplaceLyrics(ctx, r.trackID, lines); err != nil {
			return err
		}
		r.dirty = false
		fmt.Fprintf(r.out, "Saved %d lines\n", len(lines))
		return nil
	}

	if err := r.edit(cmd, args); err != nil {
		return err
	}
	r.dirty = true
	r.show()
	return nil
}

// edit applies an editing command.
func (r *timingREPL) edit(cmd string, args []string) error {
	switch cmd {
	case "s", "stamp":
		i := r.editor.Cursor()
		if len(args) > 0 {
			n, err := lineArg(args, 0)
			if err != nil {
				return err
			}
			i = n
		}
		if !r.editor.Stamp(i) {
			return errors.New("nothing stamped: track not loaded or line out of range")
		}
	case "start", "end":
		i, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		v, err := floatArg(args, 1)
		if err != nil {
			return err
		}
		if cmd == "start" {
			r.editor.SetStartTime(i, v)
		} else {
			r.editor.SetEndTime(i, v)
		}
	case "text":
		i, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		r.editor.SetText(i, strings.Join(args[1:], " "))
	case "chorus":
		i, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		lines := r.editor.Lines()
		if i < 0 || i >= len(lines) {
			return fmt.Errorf("no line %d", i+1)
		}
		r.editor.SetChorus(i, !lines[i].IsChorus)
	case "ins", "insert":
		if len(args) == 0 {
			r.editor.InsertLine()
			return nil
		}
		i, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		r.editor.InsertLineAt(i)
	case "rm", "remove":
		i, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		r.editor.RemoveLine(i)
	case "mv", "move":
		from, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		to, err := lineArg(args, 1)
		if err != nil {
			return err
		}
		r.editor.MoveLine(from, to)
	case "cursor":
		i, err := lineArg(args, 0)
		if err != nil {
			return err
		}
		r.editor.SetCursor(i)
	case "clear":
		r.editor.ClearAllTimes()
	case "recalc":
		r.editor.RecalculateEndTimes()
	case "import":
		if len(args) == 0 {
			return errors.New("usage: import <file>")
		}
		lines, err := readLyricsFile(strings.Join(args, " "))
		if err != nil {
			return err
		}
		r.editor.Load(lines, r.editor.State().Duration)
	default:
		return fmt.Errorf("unknown command %q (type help)", cmd)
	}
	return nil
}

func (r *timingREPL) show() {
	renderLines(r.out, r.editor.Lines(), r.editor.Cursor())
}

// lineArg parses a 1-based line number into an index.
func lineArg(args []string, pos int) (int, error) {
	if pos >= len(args) {
		return 0, errors.New("line number required")
	}
	n, err := strconv.Atoi(args[pos])
	if err != nil {
		return 0, fmt.Errorf("invalid line number %q", args[pos])
	}
	return n - 1, nil
}

func floatArg(args []string, pos int) (float64, error) {
	if pos >= len(args) {
		return 0, errors.New("seconds required")
	}
	v, err := strconv.ParseFloat(args[pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds %q", args[pos])
	}
	return v, nil
}
