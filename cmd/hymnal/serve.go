package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edumarques81/hymnal-backend/internal/audio"
	"github.com/edumarques81/hymnal-backend/internal/auth"
	"github.com/edumarques81/hymnal-backend/internal/domain/player"
	"github.com/edumarques81/hymnal-backend/internal/infra/playcount"
	"github.com/edumarques81/hymnal-backend/internal/infra/store"
	"github.com/edumarques81/hymnal-backend/internal/playback"
	"github.com/edumarques81/hymnal-backend/internal/transport/rest"
	"github.com/edumarques81/hymnal-backend/internal/transport/socketio"
	"github.com/edumarques81/hymnal-backend/internal/version"
)

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the playback backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cfg.bindServeFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg *Config) error {
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Hymnal Playback and Lyric Sync Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", cfg.Port).
		Str("db", cfg.DBPath).
		Str("output", cfg.Output).
		Str("play_sink", cfg.PlaySink).
		Bool("admin", cfg.AdminSecret != "").
		Msg("Configuration")

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	lyricStore := store.NewLyricStore(db)

	resolver, catalogCloser, err := openCatalog(cfg, true)
	if err != nil {
		return err
	}
	defer catalogCloser.Close()

	counter, sinkCloser, err := openPlaySink(cfg, db)
	if err != nil {
		return err
	}
	defer sinkCloser.Close()

	recorder := playcount.NewRecorder(counter)
	go recorder.Start(ctx)
	defer recorder.Stop()

	machine := player.NewMachine()
	driverOpts := []playback.Option{playback.WithPlayCounter(recorder)}
	out, err := openOutput(cfg)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("output", cfg.Output).Msg("Audio output unavailable, using simulated playback")
	case out != nil:
		driverOpts = append(driverOpts, playback.WithOutput(out))
	}
	defer audio.Shutdown()

	authorizer := auth.New(cfg.AdminSecret)
	if !authorizer.Enabled() {
		log.Warn().Msg("HYMNAL_ADMIN_SECRET not set, lyric editing disabled")
	}

	driver := playback.NewDriver(machine, driverOpts...)
	socketServer, err := socketio.NewServer(machine, resolver, lyricStore,
		socketio.WithAuthorizer(authorizer),
		socketio.WithLoadState(driver.Loaded),
	)
	if err != nil {
		return err
	}
	defer socketServer.Close()

	api := rest.NewHandler(machine, resolver, lyricStore,
		rest.WithAuthorizer(authorizer),
		rest.WithCounter(counter),
		rest.WithLyricsHook(socketServer.LyricsChanged),
		rest.WithHealthCheck(func(ctx context.Context) error {
			return db.DB().PingContext(ctx)
		}),
	)

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		driver.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		socketServer.Run(runCtx)
	}()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", socketServer)
	mux.Handle("/api/", api)
	mux.Handle("/health", api)
	if cfg.StaticDir != "" {
		log.Info().Str("dir", cfg.StaticDir).Msg("Serving static files")
		mux.Handle("/", spaHandler(cfg.StaticDir))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsMiddleware(cfg.AllowedOrigins, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

// spaHandler serves files from dir, falling back to index.html for client routes.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err != nil || info.IsDir() && r.URL.Path != "/" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}
