package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSite(t *testing.T) {
	s, err := DefaultSite()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, s.Courts)
	assert.Equal(t, "Wooden Court 3 | 968 Sq ft", s.CourtOption(3))
	assert.Equal(t, "Wooden Court 3", s.CourtName(3))
	assert.Equal(t, "3", s.CourtKey(3))
	assert.Equal(t, "div.date-button[data-active-date='2025-12-16']", s.DateButton("2025-12-16"))
	assert.Equal(t, 25*time.Second, s.Timeouts.SlotGrid)
	assert.Equal(t, 1200*time.Millisecond, s.Settle.Grid)
	assert.Empty(t, s.Schedules)
}

func TestParseSite_OverridesDefaults(t *testing.T) {
	s, err := ParseSite([]byte(`
courts: [1, 2]
settle:
  major: 0s
schedules:
  - name: morning
    cron: "0 6 * * *"
    offset_days: 1
    span_days: 3
`))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, s.Courts)
	assert.Zero(t, s.Settle.Major)
	assert.Equal(t, 200*time.Millisecond, s.Settle.Minor)
	require.Len(t, s.Schedules, 1)
	assert.Equal(t, Schedule{Name: "morning", Cron: "0 6 * * *", OffsetDays: 1, SpanDays: 3}, s.Schedules[0])
}

func TestParseSite_Invalid(t *testing.T) {
	_, err := ParseSite([]byte(`
url: ""
courts: []
timeouts:
  slot_grid: 0s
schedules:
  - name: broken
`))
	require.Error(t, err)
	for _, want := range []string{"url is required", "at least one court", "timeouts.slot_grid", "cron is required", "span_days"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseSite_ScheduleSpanBeyondWindow(t *testing.T) {
	_, err := ParseSite([]byte(`
schedules:
  - name: week
    cron: "0 6 * * *"
    span_days: 5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `schedule "week": span_days must be 1..3`)

	s, err := ParseSite([]byte(`
schedules:
  - name: max
    cron: "0 6 * * *"
    span_days: 3
`))
	require.NoError(t, err)
	assert.Len(t, s.Schedules, 1)
}

func TestLoadSite_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: http://localhost:9999/book\n"), 0o644))
	s, err := LoadSite(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/book", s.URL)

	_, err = LoadSite(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromEnvAndFlags(t *testing.T) {
	t.Setenv("COURTSCAN_ADDR", ":7000")
	t.Setenv("COURTSCAN_WORKERS", "4")
	t.Setenv("COURTSCAN_HEADLESS", "false")
	t.Setenv("COURTSCAN_JOB_TTL", "1h")
	t.Setenv("COURTSCAN_USER_AGENT", "courtscan-test")

	cfg := FromEnv()
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, 4, cfg.Workers)
	assert.False(t, cfg.Headless)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Equal(t, 2, cfg.Attempts)
	assert.Equal(t, "courtscan-test", cfg.UserAgent)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-addr", ":8081", "-attempts", "3", "-user-agent", "Mozilla/5.0 (X11; Linux x86_64)"}))
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", cfg.UserAgent)
	assert.Equal(t, ":8081", cfg.Addr)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 4, cfg.Workers)
	assert.NoError(t, cfg.Validate())

	cfg.Attempts = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COURTSCAN_DEBUG_DIR=/tmp/courtscan-debug\n"), 0o644))
	t.Setenv("COURTSCAN_DEBUG_DIR", "")
	require.NoError(t, os.Unsetenv("COURTSCAN_DEBUG_DIR"))
	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "/tmp/courtscan-debug", FromEnv().DebugDir)
}

func TestEnvFileArg(t *testing.T) {
	assert.Equal(t, ".env", EnvFileArg([]string{"-addr", ":9000"}, ".env"))
	assert.Equal(t, "prod.env", EnvFileArg([]string{"-addr", ":9000", "-env", "prod.env"}, ".env"))
	assert.Equal(t, "x.env", EnvFileArg([]string{"--env=x.env"}, ".env"))
	assert.Equal(t, ".env", EnvFileArg([]string{"-env"}, ".env"))
}
