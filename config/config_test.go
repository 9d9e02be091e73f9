package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)

	check.Equal(t, ":8080", cfg.HTTPAddr)
	check.Equal(t, uint32(0), cfg.VsockPort)
	check.Equal(t, "sqlite", cfg.DatabaseType)
	check.Equal(t, 30*time.Second, cfg.SweepInterval)
	check.Equal(t, 45*time.Minute, cfg.BannerVisibility)
	check.Equal(t, 30*time.Second, cfg.StaleCancelMargin)
	check.Equal(t, 5*time.Minute, cfg.ClockMaxAge)
	check.Equal(t, 64, cfg.MaxWorkers)
	check.False(t, cfg.AttestWinners)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("LIVEAUCTION_HTTP_ADDR", ":9000")
	t.Setenv("LIVEAUCTION_VSOCK_PORT", "5000")
	t.Setenv("LIVEAUCTION_DATABASE_TYPE", "postgres")
	t.Setenv("LIVEAUCTION_DATABASE_URL", "postgres://localhost/auctions")
	t.Setenv("LIVEAUCTION_BANNER_VISIBILITY", "1h")
	t.Setenv("LIVEAUCTION_ATTEST_WINNERS", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
	check.Equal(t, ":9000", cfg.HTTPAddr)
	check.Equal(t, uint32(5000), cfg.VsockPort)
	check.Equal(t, "postgres", cfg.DatabaseType)
	check.Equal(t, time.Hour, cfg.BannerVisibility)
	check.True(t, cfg.AttestWinners)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := "LIVEAUCTION_SWEEP_INTERVAL=10s\nLIVEAUCTION_MAX_WORKERS=8\n"
	assert.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("LIVEAUCTION_MAX_WORKERS", "4")
	t.Cleanup(func() { os.Unsetenv("LIVEAUCTION_SWEEP_INTERVAL") })

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, 10*time.Second, cfg.SweepInterval)
	// The environment overrides the file.
	check.Equal(t, 4, cfg.MaxWorkers)
}

func TestLoad_Invalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Setenv("LIVEAUCTION_DATABASE_TYPE", "mysql")
	_, err := Load(missing)
	check.Error(t, err)

	t.Setenv("LIVEAUCTION_DATABASE_TYPE", "sqlite")
	t.Setenv("LIVEAUCTION_MAX_WORKERS", "0")
	_, err = Load(missing)
	check.Error(t, err)

	t.Setenv("LIVEAUCTION_MAX_WORKERS", "4")
	t.Setenv("LIVEAUCTION_SWEEP_INTERVAL", "soon")
	_, err = Load(missing)
	check.Error(t, err)
}
