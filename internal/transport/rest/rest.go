// Package rest provides the HTTP API next to the Socket.io transport.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/hymnal-backend/internal/auth"
	"github.com/edumarques81/hymnal-backend/internal/domain/lyrics"
	"github.com/edumarques81/hymnal-backend/internal/domain/player"
	"github.com/edumarques81/hymnal-backend/internal/infra/catalog"
	"github.com/edumarques81/hymnal-backend/internal/infra/playcount"
	"github.com/edumarques81/hymnal-backend/internal/infra/store"
	"github.com/edumarques81/hymnal-backend/internal/version"
)

const (
	requestTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
)

// LyricStore is the lyric persistence used by the API.
type LyricStore interface {
	GetLyrics(ctx context.Context, trackID string) ([]lyrics.Line, error)
	ReplaceLyrics(ctx context.Context, trackID string, lines []lyrics.Line) error
	DeleteLyrics(ctx context.Context, trackID string) error
}

// Handler serves the REST API.
type Handler struct {
	router  *mux.Router
	machine *player.Machine
	catalog catalog.Resolver
	lyrics  LyricStore
	counts  playcount.Counter
	auth    *auth.Authorizer
	health  func(ctx context.Context) error
	changed func(trackID string)
}

// Option configures a Handler.
type Option func(*Handler)

// WithCounter exposes play counts.
func WithCounter(c playcount.Counter) Option {
	return func(h *Handler) {
		h.counts = c
	}
}

// WithAuthorizer enables the admin lyric endpoints.
func WithAuthorizer(a *auth.Authorizer) Option {
	return func(h *Handler) {
		h.auth = a
	}
}

// WithHealthCheck adds a dependency check to /health.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(h *Handler) {
		h.health = fn
	}
}

// WithLyricsHook is called after lyrics of a track were replaced or deleted.
func WithLyricsHook(fn func(trackID string)) Option {
	return func(h *Handler) {
		h.changed = fn
	}
}

// NewHandler creates the API router.
func NewHandler(machine *player.Machine, resolver catalog.Resolver, lyricStore LyricStore, opts ...Option) *Handler {
	h := &Handler{
		machine: machine,
		catalog: resolver,
		lyrics:  lyricStore,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := mux.NewRouter().StrictSlash(true)
	r.HandleFunc("/health", h.getHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/version", h.getVersion).Methods(http.MethodGet)
	api.HandleFunc("/state", h.getState).Methods(http.MethodGet)
	api.HandleFunc("/queue", h.getQueue).Methods(http.MethodGet)
	api.HandleFunc("/tracks", h.getTracks).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}", h.getTrack).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}/lyrics", h.getLyrics).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}/lyrics", h.putLyrics).Methods(http.MethodPut)
	api.HandleFunc("/tracks/{id}/lyrics", h.deleteLyrics).Methods(http.MethodDelete)
	api.HandleFunc("/tracks/{id}/lyrics.lrc", h.exportLyrics).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{id}/plays", h.getPlays).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "not found")
	})
	h.router = r

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func respondWithJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

func respondWithError(w http.ResponseWriter, status int, reason string) {
	respondWithJSON(w, status, map[string]string{"error": reason})
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, catalog.ErrTrackNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrNoSecret):
		return http.StatusForbidden
	case errors.Is(err, playcount.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := h.health(ctx); err != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, version.GetInfo())
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.machine.Snapshot().ToJSON())
}

func (h *Handler) getQueue(w http.ResponseWriter, r *http.Request) {
	snap := h.machine.Snapshot()
	queue := snap.Queue
	if queue == nil {
		queue = []player.Track{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"queue":        queue,
		"currentIndex": snap.CurrentIndex,
		"queueVersion": snap.QueueVersion,
	})
}

func (h *Handler) getTracks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	tracks, err := h.catalog.Tracks(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Listing tracks failed")
		respondWithError(w, statusOf(err), err.Error())
		return
	}
	if tracks == nil {
		tracks = []player.Track{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

func (h *Handler) getTrack(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	track, err := h.catalog.Track(ctx, mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, statusOf(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, track)
}

func (h *Handler) getLyrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	lines, err := h.lyrics.GetLyrics(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("track", id).Msg("Loading lyrics failed")
		respondWithError(w, statusOf(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"trackId": id,
		"lines":   lines,
	})
}

// authorize verifies the admin token of r and writes the refusal.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) bool {
	claims, err := h.auth.VerifyRequest(r)
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			status = http.StatusUnauthorized
		}
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("Admin request refused")
		respondWithError(w, status, err.Error())
		return false
	}
	log.Debug().Str("subject", claims.Subject).Str("path", r.URL.Path).Msg("Admin request")
	return true
}

func (h *Handler) putLyrics(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id := mux.Vars(r)["id"]

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		respondWithError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	lines, err := decodeLines(buf.Bytes())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if _, err := h.catalog.Track(ctx, id); err != nil {
		respondWithError(w, statusOf(err), err.Error())
		return
	}
	if err := h.lyrics.ReplaceLyrics(ctx, id, lines); err != nil {
		log.Error().Err(err).Str("track", id).Msg("Saving lyrics failed")
		respondWithError(w, statusOf(err), err.Error())
		return
	}

	log.Info().Str("track", id).Int("lines", len(lines)).Msg("Lyrics replaced")
	if h.changed != nil {
		h.changed(id)
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"trackId": id,
		"lines":   lines,
	})
}

func (h *Handler) deleteLyrics(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := h.lyrics.DeleteLyrics(ctx, id); err != nil {
		respondWithError(w, statusOf(err), err.Error())
		return
	}

	log.Info().Str("track", id).Msg("Lyrics deleted")
	if h.changed != nil {
		h.changed(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportLyrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	lines, err := h.lyrics.GetLyrics(ctx, id)
	if err != nil {
		respondWithError(w, statusOf(err), err.Error())
		return
	}
	if len(lines) == 0 {
		respondWithError(w, http.StatusNotFound, "no lyrics")
		return
	}

	var buf bytes.Buffer
	if err := lyrics.FormatLRC(&buf, lines); err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".lrc"))
	w.Write(buf.Bytes())
}

func (h *Handler) getPlays(w http.ResponseWriter, r *http.Request) {
	if h.counts == nil {
		respondWithError(w, http.StatusNotImplemented, playcount.ErrUnsupported.Error())
		return
	}
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	count, err := h.counts.Count(ctx, id)
	if err != nil {
		log.Debug().Err(err).Str("track", id).Msg("Play count unavailable")
		respondWithError(w, statusOf(err), err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"trackId": id,
		"count":   count,
	})
}
