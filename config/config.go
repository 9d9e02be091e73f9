// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting of the auction server.
type Config struct {
	HTTPAddr  string `env:"LIVEAUCTION_HTTP_ADDR"  envDefault:":8080"`
	VsockPort uint32 `env:"LIVEAUCTION_VSOCK_PORT"`

	DatabaseType string `env:"LIVEAUCTION_DATABASE_TYPE" envDefault:"sqlite"`
	DatabaseURL  string `env:"LIVEAUCTION_DATABASE_URL"  envDefault:"liveauction.db"`

	TimeSourceURL     string        `env:"LIVEAUCTION_TIME_SOURCE_URL"`
	ClockSyncInterval time.Duration `env:"LIVEAUCTION_CLOCK_SYNC_INTERVAL" envDefault:"1m"`
	ClockMaxAge       time.Duration `env:"LIVEAUCTION_CLOCK_MAX_AGE"       envDefault:"5m"`

	SweepInterval     time.Duration `env:"LIVEAUCTION_SWEEP_INTERVAL"      envDefault:"30s"`
	BannerVisibility  time.Duration `env:"LIVEAUCTION_BANNER_VISIBILITY"   envDefault:"45m"`
	StaleCancelMargin time.Duration `env:"LIVEAUCTION_STALE_CANCEL_MARGIN" envDefault:"30s"`

	AttestWinners bool `env:"LIVEAUCTION_ATTEST_WINNERS"`
	MaxWorkers    int  `env:"LIVEAUCTION_MAX_WORKERS" envDefault:"64"`
	LogVerbose    int  `env:"LIVEAUCTION_LOG_VERBOSE"`
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the parser cannot.
func (c Config) Validate() error {
	switch strings.ToLower(c.DatabaseType) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type %q (use sqlite or postgres)", c.DatabaseType)
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL required")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive, got %d", c.MaxWorkers)
	}
	if c.ClockSyncInterval <= 0 || c.SweepInterval <= 0 {
		return errors.New("clock sync and sweep intervals must be positive")
	}
	if c.StaleCancelMargin < 0 {
		return errors.New("stale cancel margin must not be negative")
	}
	return nil
}
