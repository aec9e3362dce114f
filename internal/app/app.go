// Package app holds the wiring shared by the server and the one-shot runner.
package app

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"courtscan/internal/attempt"
	"courtscan/internal/browser"
	"courtscan/internal/config"
	"courtscan/internal/wizard"
)

// SetupLogging points the global logger at a console writer on out.
func SetupLogging(out io.Writer, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	return nil
}

// LoadSite returns the profile at cfg.SiteFile or the embedded default.
func LoadSite(cfg config.Config) (*config.Site, error) {
	if cfg.SiteFile == "" {
		return config.DefaultSite()
	}
	return config.LoadSite(cfg.SiteFile)
}

// NewChecker builds the per-court checker: a fresh Chrome per attempt driven
// through the booking wizard. rec may be nil.
func NewChecker(cfg config.Config, site *config.Site, rec attempt.Recorder) *attempt.Controller {
	launcher := browser.NewChrome(browser.LaunchOptions{
		Headless:     cfg.Headless,
		ExecPath:     cfg.ChromePath,
		UserAgent:    cfg.UserAgent,
		WindowWidth:  1366,
		WindowHeight: 900,
	})
	wz := wizard.New(site, wizard.NewInteractor(site))
	return attempt.New(launcher, wz, attempt.Options{
		Attempts: cfg.Attempts,
		DebugDir: cfg.DebugDir,
		Recorder: rec,
	})
}
