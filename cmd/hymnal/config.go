package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"

	"github.com/edumarques81/hymnal-backend/internal/infra/store"
)

// envPrefix prefixes every environment variable, e.g. HYMNAL_PORT.
const envPrefix = "HYMNAL"

// Config is the process configuration. Environment variables set the
// defaults; command line flags override them.
type Config struct {
	Port      string `envconfig:"PORT" default:"3001"`
	StaticDir string `envconfig:"STATIC_DIR"`
	Debug     bool   `envconfig:"DEBUG"`

	DBPath      string `envconfig:"DB_PATH"`
	CatalogFile string `envconfig:"CATALOG_FILE" default:"data/catalog.json"`
	CatalogURL  string `envconfig:"CATALOG_URL"`

	// Output selects the audio output: mpd, speaker or none.
	Output      string `envconfig:"OUTPUT" default:"none"`
	MPDHost     string `envconfig:"MPD_HOST" default:"localhost"`
	MPDPort     int    `envconfig:"MPD_PORT" default:"6600"`
	MPDPassword string `envconfig:"MPD_PASSWORD"`

	// PlaySink selects the play-count sink: sqlite, redis, http or log.
	PlaySink     string `envconfig:"PLAY_SINK" default:"sqlite"`
	RedisAddr    string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	PlayCountURL string `envconfig:"PLAY_COUNT_URL"`

	AdminSecret    string   `envconfig:"ADMIN_SECRET"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// loadConfig reads envFile when it exists and then the environment.
func loadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = store.DefaultDBPath
	}
	return cfg, nil
}

// bindFlags registers the flags shared by every command, defaulting to cfg.
func (cfg *Config) bindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.CatalogFile, "catalog", cfg.CatalogFile, "Track catalog JSON file")
	fs.StringVar(&cfg.CatalogURL, "catalog-url", cfg.CatalogURL, "Remote track catalog base URL (overrides --catalog)")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "Audio output: mpd, speaker or none")
	fs.StringVar(&cfg.MPDHost, "mpd-host", cfg.MPDHost, "MPD host")
	fs.IntVar(&cfg.MPDPort, "mpd-port", cfg.MPDPort, "MPD port")
	fs.StringVar(&cfg.MPDPassword, "mpd-password", cfg.MPDPassword, "MPD password")
}

// bindServeFlags registers the flags only the server uses.
func (cfg *Config) bindServeFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Directory to serve static files from (optional)")
	fs.StringVar(&cfg.PlaySink, "play-sink", cfg.PlaySink, "Play-count sink: sqlite, redis, http or log")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis play-count sink")
	fs.StringVar(&cfg.PlayCountURL, "play-count-url", cfg.PlayCountURL, "Base URL for the http play-count sink")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "CORS allowed origins")
}

// validate checks the enumerated settings.
func (cfg Config) validate() error {
	switch cfg.Output {
	case "mpd", "speaker", "none":
	default:
		return fmt.Errorf("unknown output %q", cfg.Output)
	}
	switch cfg.PlaySink {
	case "sqlite", "redis", "log":
	case "http":
		if cfg.PlayCountURL == "" {
			return errors.New("play-count-url is required for the http play-count sink")
		}
	default:
		return fmt.Errorf("unknown play-count sink %q", cfg.PlaySink)
	}
	if cfg.MPDPort <= 0 || cfg.MPDPort > 65535 {
		return fmt.Errorf("invalid MPD port %d", cfg.MPDPort)
	}
	return nil
}
