package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process settings. Environment variables (optionally from a
// .env file) provide the defaults, flags override them.
type Config struct {
	Addr       string
	DBPath     string
	SiteFile   string
	DebugDir   string
	LogLevel   string
	ChromePath string
	UserAgent  string
	Workers    int
	Attempts   int
	Headless   bool
	KeepAlive  time.Duration
	JobTTL     time.Duration
	ReapEvery  time.Duration
}

// LoadEnvFile loads path into the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// EnvFileArg finds the -env flag in args before the flag set is parsed, so
// the file can seed flag defaults.
func EnvFileArg(args []string, def string) string {
	for i, a := range args {
		name := strings.TrimPrefix(strings.TrimPrefix(a, "-"), "-")
		switch {
		case name == "env" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(name, "env="):
			return name[len("env="):]
		}
	}
	return def
}

// FromEnv builds the defaults from COURTSCAN_* variables.
func FromEnv() Config {
	return Config{
		Addr:       getenv("COURTSCAN_ADDR", ":5000"),
		DBPath:     getenv("COURTSCAN_DB", "courtscan.db"),
		SiteFile:   getenv("COURTSCAN_SITE", ""),
		DebugDir:   getenv("COURTSCAN_DEBUG_DIR", "debug"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		ChromePath: getenv("COURTSCAN_CHROME", ""),
		UserAgent:  getenv("COURTSCAN_USER_AGENT", ""),
		Workers:    getenvInt("COURTSCAN_WORKERS", 2),
		Attempts:   getenvInt("COURTSCAN_ATTEMPTS", 2),
		Headless:   getenvBool("COURTSCAN_HEADLESS", true),
		KeepAlive:  getenvDuration("COURTSCAN_KEEPALIVE", 300*time.Second),
		JobTTL:     getenvDuration("COURTSCAN_JOB_TTL", 0),
		ReapEvery:  getenvDuration("COURTSCAN_REAP_EVERY", 10*time.Minute),
	}
}

// RegisterFlags binds the service flags to c, using its current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP bind address")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite DB path for scan history")
	c.RegisterScanFlags(fs)
	fs.IntVar(&c.Workers, "workers", c.Workers, "max concurrent scans")
	fs.DurationVar(&c.KeepAlive, "keepalive", c.KeepAlive, "idle interval before an event stream sends a keep-alive")
	fs.DurationVar(&c.JobTTL, "job-ttl", c.JobTTL, "drop finished jobs from memory after this long (0 keeps them)")
	fs.DurationVar(&c.ReapEvery, "reap-every", c.ReapEvery, "how often finished jobs are checked against -job-ttl")
}

// RegisterScanFlags binds only the flags needed to drive the browser.
func (c *Config) RegisterScanFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.SiteFile, "site", c.SiteFile, "site profile YAML (default: embedded profile)")
	fs.StringVar(&c.DebugDir, "debug-dir", c.DebugDir, "directory for failure screenshots and HTML")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.ChromePath, "chrome", c.ChromePath, "Chrome/Chromium executable (default: autodetect)")
	fs.StringVar(&c.UserAgent, "user-agent", c.UserAgent, "browser User-Agent override (default: Chrome's own)")
	fs.IntVar(&c.Attempts, "attempts", c.Attempts, "browser passes per court before recording an error")
	fs.BoolVar(&c.Headless, "headless", c.Headless, "run the browser headless")
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	if c.Attempts < 1 {
		return errors.New("attempts must be >= 1")
	}
	if c.KeepAlive <= 0 {
		return errors.New("keepalive must be positive")
	}
	if c.JobTTL < 0 {
		return errors.New("job-ttl must not be negative")
	}
	return nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
