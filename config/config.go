package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	JWTSecret   string `env:"JWT_SECRET,required"   validate:"required,min=32"`

	// Job queue.
	WorkerCount     int `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalSec int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	JobMaxAttempts  int `env:"JOB_MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=20"`
	JobRetryBaseMS  int `env:"JOB_RETRY_BASE_MS" envDefault:"30000" validate:"min=100"`

	// Request lifecycle.
	RequireApproval   bool    `env:"REQUIRE_APPROVAL" envDefault:"true"`
	MaxSearchAttempts int     `env:"MAX_SEARCH_ATTEMPTS" envDefault:"3" validate:"min=0,max=50"`
	MinMatchRatio     float64 `env:"MIN_MATCH_RATIO" envDefault:"0.5" validate:"min=0,max=1"`

	// Maintenance schedules; five-field cron expressions or @every intervals.
	ResearchSweepSchedule   string `env:"RESEARCH_SWEEP_SCHEDULE" envDefault:"@every 4h"`
	MetadataRefreshSchedule string `env:"METADATA_REFRESH_SCHEDULE" envDefault:"30 3 * * *"`
	LibraryScanSchedule     string `env:"LIBRARY_SCAN_SCHEDULE" envDefault:"0 4 * * *"`

	// Scraped-indexer pacing. The defaults are the documented baseline:
	// 2-4s between clean pages, breaker at 3 consecutive retry pages,
	// 45-60s cooldown once tripped.
	ScrapeMaxPages       int `env:"SCRAPE_MAX_PAGES" envDefault:"5" validate:"min=1,max=50"`
	PaceBaseDelayMinMS   int `env:"PACE_BASE_DELAY_MIN_MS" envDefault:"2000" validate:"min=0"`
	PaceBaseDelayMaxMS   int `env:"PACE_BASE_DELAY_MAX_MS" envDefault:"4000" validate:"gtefield=PaceBaseDelayMinMS"`
	PaceCooldownMinMS    int `env:"PACE_COOLDOWN_MIN_MS" envDefault:"45000" validate:"min=0"`
	PaceCooldownMaxMS    int `env:"PACE_COOLDOWN_MAX_MS" envDefault:"60000" validate:"gtefield=PaceCooldownMinMS"`
	PaceBreakerThreshold int `env:"PACE_BREAKER_THRESHOLD" envDefault:"3" validate:"min=1,max=20"`

	// Plex. The server URL, section and token locate the audiobook library;
	// local development may run without them (scans will just fail and log).
	PlexClientID  string `env:"PLEX_CLIENT_ID" envDefault:"readmeabook"`
	PlexServerURL string `env:"PLEX_SERVER_URL" validate:"required_if=Env production"`
	PlexSectionID string `env:"PLEX_SECTION_ID" validate:"required_if=Env production"`
	PlexToken     string `env:"PLEX_TOKEN" validate:"required_if=Env production"`

	// qBittorrent.
	QBittorrentURL      string `env:"QBITTORRENT_URL" validate:"required_if=Env production"`
	QBittorrentUser     string `env:"QBITTORRENT_USER"`
	QBittorrentPassword string `env:"QBITTORRENT_PASSWORD"`
	QBittorrentCategory string `env:"QBITTORRENT_CATEGORY" envDefault:"audiobooks"`

	// Email. ENV=local logs instead of sending, so keys are only required
	// where real mail goes out.
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`

	// Audible metadata API base; override mainly for tests.
	AudibleAPIURL string `env:"AUDIBLE_API_URL" envDefault:"https://api.audible.com"`
}

func Load() (*Config, error) {
	// Local development keeps its environment in .env; deployed
	// environments inject real variables and have no such file.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
