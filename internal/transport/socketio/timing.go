package socketio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
	"github.com/edumarques81/hymnal-backend/internal/domain/timing"
	"github.com/edumarques81/hymnal-backend/internal/playback"
)

// timingEvents are the editing events forwarded to the open session.
var timingEvents = []string{
	"timing.stamp",
	"timing.setStart",
	"timing.setEnd",
	"timing.setText",
	"timing.setChorus",
	"timing.insert",
	"timing.insertAt",
	"timing.remove",
	"timing.move",
	"timing.clear",
	"timing.import",
	"timing.recalc",
	"timing.cursor",
}

var (
	errNoSession  = errors.New("no timing session open")
	errNoLyricDB  = errors.New("lyric store unavailable")
	errBadPayload = errors.New("invalid payload")
)

// timingSession is one admin editing a track.
type timingSession struct {
	id      string
	trackID string
	editor  *timing.Editor
}

// timingPayload is the pushTiming body.
type timingPayload struct {
	SessionID string `json:"sessionId"`
	timing.State
}

// TimingHandlers serves admin lyric-timing sessions over the socket.
type TimingHandlers struct {
	server   *Server
	registry *SessionRegistry

	mu       sync.Mutex
	sessions map[string]*timingSession // by client id
}

// NewTimingHandlers creates timing handlers for server.
func NewTimingHandlers(server *Server) *TimingHandlers {
	return &TimingHandlers{
		server:   server,
		registry: NewSessionRegistry(),
		sessions: make(map[string]*timingSession),
	}
}

// RegisterHandlers registers the timing events of a client.
func (h *TimingHandlers) RegisterHandlers(client *socket.Socket) {
	clientID := string(client.Id())

	client.On("timing.open", func(args ...any) {
		m := argMap(args)
		trackID, _ := getString(m, "trackId")
		token, _ := getString(m, "token")
		log.Debug().Str("id", clientID).Str("track", trackID).Msg("timing.open")

		sess, err := h.Open(clientID, trackID, token)
		if err != nil {
			log.Warn().Err(err).Str("id", clientID).Str("track", trackID).Msg("Timing session refused")
			h.pushError(client, "timing.open", err)
			return
		}
		client.Emit("pushTiming", sess)
	})

	client.On("timing.save", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("timing.save")
		saved, err := h.Save(clientID)
		if err != nil {
			log.Warn().Err(err).Str("id", clientID).Msg("Timing save failed")
			h.pushError(client, "timing.save", err)
			return
		}
		client.Emit("pushTimingSaved", saved)
	})

	client.On("timing.close", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("timing.close")
		if trackID, ok := h.Release(clientID); ok {
			client.Emit("pushTimingClosed", map[string]interface{}{
				"trackId": trackID,
				"reason":  "closed",
			})
		}
	})

	for _, event := range timingEvents {
		client.On(event, func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg(event)
			state, err := h.Apply(clientID, event, argMap(args))
			if err != nil {
				h.pushError(client, event, err)
				return
			}
			client.Emit("pushTiming", state)
		})
	}
}

// Open verifies token and starts an editing session for trackID. An older
// session on the same track is evicted and told so.
func (h *TimingHandlers) Open(clientID, trackID, token string) (timingPayload, error) {
	if trackID == "" {
		return timingPayload{}, fmt.Errorf("%w: trackId required", errBadPayload)
	}
	if _, err := h.server.auth.Verify(token); err != nil {
		return timingPayload{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	track, err := h.server.catalog.Track(ctx, trackID)
	if err != nil {
		return timingPayload{}, err
	}

	var lines []lyrics.Line
	if h.server.lyrics != nil {
		got, err := h.server.lyrics.GetLyrics(ctx, trackID)
		if err != nil {
			log.Debug().Err(err).Str("track", trackID).Msg("Starting timing session without stored lyrics")
		}
		lines = got
	}

	duration := track.Duration
	if snap := h.server.machine.Snapshot(); snap.TrackID() == trackID && snap.Duration > 0 {
		duration = snap.Duration
	}

	editor := timing.NewEditor(trackID, playback.TrackClock{Machine: h.server.machine, TrackID: trackID, Loaded: h.server.loaded})
	editor.Load(lines, duration)
	sess := &timingSession{id: uuid.NewString(), trackID: trackID, editor: editor}

	evicted, _ := h.registry.Open(clientID, trackID)

	h.mu.Lock()
	h.sessions[clientID] = sess
	if evicted != "" {
		delete(h.sessions, evicted)
	}
	h.mu.Unlock()

	if evicted != "" {
		log.Info().Str("track", trackID).Str("evicted", evicted).Str("id", clientID).Msg("Timing session replaced")
		h.server.emitTo(evicted, "pushTimingClosed", map[string]interface{}{
			"trackId": trackID,
			"reason":  "replaced",
		})
	}
	log.Info().Str("track", trackID).Str("session", sess.id).Int("lines", len(lines)).Msg("Timing session opened")

	return sess.payload(), nil
}

// Apply runs one editing event against the session of clientID.
func (h *TimingHandlers) Apply(clientID, event string, m map[string]interface{}) (timingPayload, error) {
	sess := h.session(clientID)
	if sess == nil {
		return timingPayload{}, errNoSession
	}

	if snap := h.server.machine.Snapshot(); snap.TrackID() == sess.trackID && snap.Duration > 0 {
		sess.editor.SetDuration(snap.Duration)
	}
	if err := applyTimingEvent(sess.editor, event, m); err != nil {
		return timingPayload{}, err
	}
	return sess.payload(), nil
}

// Save persists the lines of the session of clientID.
func (h *TimingHandlers) Save(clientID string) (map[string]interface{}, error) {
	sess := h.session(clientID)
	if sess == nil {
		return nil, errNoSession
	}
	if h.server.lyrics == nil {
		return nil, errNoLyricDB
	}

	lines := sess.editor.Persist()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := h.server.lyrics.ReplaceLyrics(ctx, sess.trackID, lines); err != nil {
		return nil, err
	}

	log.Info().Str("track", sess.trackID).Int("lines", len(lines)).Msg("Lyric timings saved")
	h.server.LyricsChanged(sess.trackID)
	return map[string]interface{}{
		"trackId": sess.trackID,
		"lines":   lines,
	}, nil
}

// Release closes the session of clientID.
func (h *TimingHandlers) Release(clientID string) (string, bool) {
	h.mu.Lock()
	delete(h.sessions, clientID)
	h.mu.Unlock()
	return h.registry.Remove(clientID)
}

func (h *TimingHandlers) session(clientID string) *timingSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[clientID]
}

func (h *TimingHandlers) pushError(client *socket.Socket, event string, err error) {
	client.Emit("pushTimingError", map[string]interface{}{
		"event":   event,
		"message": err.Error(),
	})
}

func (s *timingSession) payload() timingPayload {
	return timingPayload{SessionID: s.id, State: s.editor.State()}
}

// applyTimingEvent maps a socket event onto the editor.
func applyTimingEvent(e *timing.Editor, event string, m map[string]interface{}) error {
	index := func() (int, error) {
		i, ok := getInt(m, "index")
		if !ok {
			return 0, fmt.Errorf("%w: index required", errBadPayload)
		}
		return i, nil
	}
	seconds := func() (float64, error) {
		v, ok := getFloat(m, "time")
		if !ok {
			return 0, fmt.Errorf("%w: time required", errBadPayload)
		}
		return v, nil
	}

	switch event {
	case "timing.stamp":
		i, ok := getInt(m, "index")
		if !ok {
			i = e.Cursor()
		}
		e.Stamp(i)
	case "timing.setStart", "timing.setEnd":
		i, err := index()
		if err != nil {
			return err
		}
		v, err := seconds()
		if err != nil {
			return err
		}
		if event == "timing.setStart" {
			e.SetStartTime(i, v)
		} else {
			e.SetEndTime(i, v)
		}
	case "timing.setText":
		i, err := index()
		if err != nil {
			return err
		}
		text, ok := getString(m, "text")
		if !ok {
			return fmt.Errorf("%w: text required", errBadPayload)
		}
		e.SetText(i, text)
	case "timing.setChorus":
		i, err := index()
		if err != nil {
			return err
		}
		chorus, ok := getBool(m, "chorus")
		if !ok {
			return fmt.Errorf("%w: chorus required", errBadPayload)
		}
		e.SetChorus(i, chorus)
	case "timing.insert":
		e.InsertLine()
	case "timing.insertAt":
		i, err := index()
		if err != nil {
			return err
		}
		e.InsertLineAt(i)
	case "timing.remove":
		i, err := index()
		if err != nil {
			return err
		}
		e.RemoveLine(i)
	case "timing.move":
		from, ok1 := getInt(m, "from")
		to, ok2 := getInt(m, "to")
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: from and to required", errBadPayload)
		}
		e.MoveLine(from, to)
	case "timing.clear":
		e.ClearAllTimes()
	case "timing.import":
		text, ok := getString(m, "text")
		if !ok {
			return fmt.Errorf("%w: text required", errBadPayload)
		}
		e.ImportFromText(text)
	case "timing.recalc":
		e.RecalculateEndTimes()
	case "timing.cursor":
		i, err := index()
		if err != nil {
			return err
		}
		e.SetCursor(i)
	default:
		return fmt.Errorf("unknown timing event %q", event)
	}
	return nil
}
