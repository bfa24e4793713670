// Package socketio provides the Socket.io server for client communication.
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/hymnal-backend/internal/auth"
	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
	"github.com/edumarques81/hymnal-backend/internal/domain/player"
	"github.com/edumarques81/hymnal-backend/internal/infra/catalog"
)

const (
	// DefaultDebounceWindow batches state broadcasts.
	DefaultDebounceWindow = 50 * time.Millisecond

	requestTimeout = 5 * time.Second
	lyricsTimeout  = 3 * time.Second
)

// LyricStore loads and saves the lyric lines of a track.
type LyricStore interface {
	GetLyrics(ctx context.Context, trackID string) ([]lyrics.Line, error)
	ReplaceLyrics(ctx context.Context, trackID string, lines []lyrics.Line) error
}

// lyricsPayload is the pushLyrics body. An empty Lines means no lyrics are available.
type lyricsPayload struct {
	TrackID     string        `json:"trackId"`
	Lines       []lyrics.Line `json:"lines"`
	ActiveIndex int           `json:"activeIndex"`
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	handler   http.Handler
	machine   *player.Machine
	catalog   catalog.Resolver
	lyrics    LyricStore
	auth      *auth.Authorizer
	loaded    func(trackID string) bool
	window    time.Duration
	debouncer *BroadcastDebouncer
	timing    *TimingHandlers
	emit      func(event string, data any)
	reload    chan string

	mu      sync.RWMutex
	clients map[string]*socket.Socket

	stateMu   sync.Mutex
	lastState map[string]interface{}

	lyricsMu sync.RWMutex
	current  lyricsPayload

	// Owned by Run.
	last     player.Snapshot
	follower *lyrics.Follower
}

// Option configures a Server.
type Option func(*Server)

// WithAuthorizer enables admin timing sessions.
func WithAuthorizer(a *auth.Authorizer) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithLoadState makes timing stamps wait until the track's audio is loaded.
func WithLoadState(loaded func(trackID string) bool) Option {
	return func(s *Server) {
		s.loaded = loaded
	}
}

// WithDebounceWindow sets the state broadcast window.
func WithDebounceWindow(window time.Duration) Option {
	return func(s *Server) {
		s.window = window
	}
}

// NewServer creates a new Socket.io server.
func NewServer(machine *player.Machine, resolver catalog.Resolver, store LyricStore, opts ...Option) (*Server, error) {
	if machine == nil || resolver == nil {
		return nil, errors.New("socketio: machine and resolver are required")
	}

	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, sopts),
		machine: machine,
		catalog: resolver,
		lyrics:  store,
		window:  DefaultDebounceWindow,
		reload:  make(chan string, 8),
		clients: make(map[string]*socket.Socket),
		current: lyricsPayload{Lines: []lyrics.Line{}, ActiveIndex: -1},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.io.ServeHandler(nil)
	s.emit = func(event string, data any) {
		s.io.Emit(event, data)
	}
	s.debouncer = NewBroadcastDebouncer(s.window, s.BroadcastState, s.BroadcastQueue)
	s.timing = NewTimingHandlers(s)

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushQueue(client)
			s.pushState(client)
			s.pushLyrics(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			s.timing.Release(clientID)
		})

		s.registerPlayerHandlers(client, clientID)
		s.registerViewHandlers(client, clientID)
		s.timing.RegisterHandlers(client)
	})
}

// registerPlayerHandlers registers queue and transport handlers.
func (s *Server) registerPlayerHandlers(client *socket.Socket, clientID string) {
	client.On("getState", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("getState")
		s.pushState(client)
	})

	client.On("getQueue", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("getQueue")
		s.pushQueue(client)
	})

	client.On("setQueue", func(args ...any) {
		log.Debug().Str("id", clientID).Interface("data", args).Msg("setQueue")
		m := argMap(args)
		ids, ok := getStrings(m, "trackIds")
		if !ok || len(ids) == 0 {
			s.pushError(client, "setQueue", errors.New("trackIds required"))
			return
		}
		start, _ := getInt(m, "startIndex")

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		tracks, err := catalog.Resolve(ctx, s.catalog, ids)
		if err != nil {
			log.Warn().Err(err).Msg("SetQueue failed")
			s.pushError(client, "setQueue", err)
			return
		}
		s.machine.SetQueue(tracks, start)
	})

	client.On("playTrack", func(args ...any) {
		log.Debug().Str("id", clientID).Interface("data", args).Msg("playTrack")
		m := argMap(args)
		id, ok := getString(m, "trackId")
		if !ok || id == "" {
			s.pushError(client, "playTrack", errors.New("trackId required"))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		track, err := s.catalog.Track(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("track", id).Msg("PlayTrack failed")
			s.pushError(client, "playTrack", err)
			return
		}

		var queue []player.Track
		if ids, ok := getStrings(m, "queue"); ok {
			if queue, err = catalog.Resolve(ctx, s.catalog, ids); err != nil {
				log.Warn().Err(err).Msg("PlayTrack queue failed")
				s.pushError(client, "playTrack", err)
				return
			}
		}
		s.machine.PlayTrack(track, queue)
	})

	client.On("play", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("play")
		s.machine.Play()
	})

	client.On("pause", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("pause")
		s.machine.Pause()
	})

	client.On("toggle", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("toggle")
		s.machine.TogglePlay()
	})

	client.On("next", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("next")
		s.machine.Next()
	})

	client.On("prev", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("prev")
		s.machine.Previous()
	})

	client.On("seek", func(args ...any) {
		if pos, ok := argNumber(args); ok {
			log.Debug().Str("id", clientID).Float64("pos", pos).Msg("seek")
			s.machine.SeekTo(pos)
		}
	})

	client.On("toggleShuffle", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("toggleShuffle")
		s.machine.ToggleShuffle()
	})

	client.On("cycleRepeat", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("cycleRepeat")
		s.machine.CycleRepeat()
	})

	client.On("setRepeat", func(args ...any) {
		log.Debug().Str("id", clientID).Interface("data", args).Msg("setRepeat")
		value, _ := getString(argMap(args), "value")
		mode, err := player.ParseRepeatMode(value)
		if err != nil {
			s.pushError(client, "setRepeat", err)
			return
		}
		s.machine.SetRepeat(mode)
	})

	client.On("clearQueue", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("clearQueue")
		s.machine.Clear()
	})
}

// registerViewHandlers registers overlay and lyric handlers.
func (s *Server) registerViewHandlers(client *socket.Socket, clientID string) {
	client.On("expandNowPlaying", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("expandNowPlaying")
		s.machine.ExpandNowPlaying()
	})

	client.On("minimizeNowPlaying", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("minimizeNowPlaying")
		s.machine.MinimizeNowPlaying()
	})

	client.On("toggleLyrics", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("toggleLyrics")
		s.machine.ToggleLyrics()
	})

	client.On("openLyrics", func(args ...any) {
		s.machine.OpenLyrics()
	})

	client.On("closeLyrics", func(args ...any) {
		s.machine.CloseLyrics()
	})

	client.On("hideMiniPlayer", func(args ...any) {
		s.machine.HideMiniPlayer()
	})

	client.On("getLyrics", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("getLyrics")
		s.pushLyrics(client)
	})

	client.On("getSystemInfo", func(args ...any) {
		log.Debug().Str("id", clientID).Msg("getSystemInfo")
		client.Emit("pushSystemInfo", s.systemInfo())
	})
}

// Run broadcasts machine changes until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	sub := s.machine.Subscribe()
	defer sub.Close()
	defer s.debouncer.Stop()

	log.Info().Msg("State broadcaster started")
	s.observe(ctx, s.machine.Snapshot(), true)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("State broadcaster stopped")
			return nil
		case <-sub.C():
			s.observe(ctx, s.machine.Snapshot(), false)
		case trackID := <-s.reload:
			if trackID == s.last.TrackID() {
				s.loadLyrics(ctx, s.last)
			}
		}
	}
}

// observe pushes what changed between the last snapshot and cur.
func (s *Server) observe(ctx context.Context, cur player.Snapshot, first bool) {
	prev := s.last
	s.last = cur

	if first || cur.QueueVersion != prev.QueueVersion {
		s.debouncer.Trigger(ChangeQueue)
	} else {
		s.debouncer.Trigger(ChangeState)
	}

	if first || cur.TrackID() != prev.TrackID() {
		s.loadLyrics(ctx, cur)
	}

	if first || cur.CurrentTime != prev.CurrentTime || cur.SeekSeq != prev.SeekSeq {
		s.emit("pushSeek", map[string]interface{}{
			"trackId":     cur.TrackID(),
			"currentTime": cur.CurrentTime,
			"duration":    cur.Duration,
		})
	}

	s.followActive(cur)
}

// loadLyrics fetches the lyrics of the current track and pushes them. A
// failed fetch falls back to no lyrics.
func (s *Server) loadLyrics(ctx context.Context, cur player.Snapshot) {
	id := cur.TrackID()
	lines := []lyrics.Line{}
	if id != "" && s.lyrics != nil {
		lctx, cancel := context.WithTimeout(ctx, lyricsTimeout)
		got, err := s.lyrics.GetLyrics(lctx, id)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("track", id).Msg("Lyrics unavailable")
		} else {
			lines = got
		}
	}

	s.follower = lyrics.NewFollower(lines)
	idx, _ := s.follower.Update(cur.CurrentTime)

	payload := lyricsPayload{TrackID: id, Lines: lines, ActiveIndex: idx}
	s.lyricsMu.Lock()
	s.current = payload
	s.lyricsMu.Unlock()

	s.emit("pushLyrics", payload)
}

// followActive pushes the active line when it changes.
func (s *Server) followActive(cur player.Snapshot) {
	if s.follower == nil {
		return
	}
	idx, changed := s.follower.Update(cur.CurrentTime)
	if !changed {
		return
	}

	s.lyricsMu.Lock()
	s.current.ActiveIndex = idx
	s.lyricsMu.Unlock()

	s.emit("pushActiveLine", map[string]interface{}{
		"trackId": cur.TrackID(),
		"index":   idx,
	})
}

// LyricsChanged asks the broadcaster to reload lyrics if trackID is current.
func (s *Server) LyricsChanged(trackID string) {
	select {
	case s.reload <- trackID:
	default:
		log.Debug().Str("track", trackID).Msg("Lyrics reload already pending")
	}
}

func (s *Server) queuePayload(snap player.Snapshot) map[string]interface{} {
	queue := snap.Queue
	if queue == nil {
		queue = []player.Track{}
	}
	return map[string]interface{}{
		"queue":        queue,
		"currentIndex": snap.CurrentIndex,
		"queueVersion": snap.QueueVersion,
	}
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.machine.Snapshot().ToJSON())
}

// pushQueue sends current queue to a client.
func (s *Server) pushQueue(client *socket.Socket) {
	client.Emit("pushQueue", s.queuePayload(s.machine.Snapshot()))
}

// pushLyrics sends the current lyrics to a client.
func (s *Server) pushLyrics(client *socket.Socket) {
	s.lyricsMu.RLock()
	payload := s.current
	s.lyricsMu.RUnlock()
	client.Emit("pushLyrics", payload)
}

func (s *Server) pushError(client *socket.Socket, event string, err error) {
	client.Emit("pushError", map[string]interface{}{
		"event":   event,
		"message": err.Error(),
	})
}

// emitTo sends an event to one connected client.
func (s *Server) emitTo(clientID, event string, data any) {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if ok {
		client.Emit(event, data)
	}
}

// BroadcastState sends state to all connected clients unless only the
// position changed since the last broadcast.
func (s *Server) BroadcastState() {
	state := s.machine.Snapshot().ToJSON()
	if s.isStateSame(state) {
		return
	}
	s.saveLastState(state)

	s.emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastQueue sends queue to all connected clients.
func (s *Server) BroadcastQueue() {
	s.emit("pushQueue", s.queuePayload(s.machine.Snapshot()))
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
