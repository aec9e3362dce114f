package attempt

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"courtscan/internal/browser"
	"courtscan/internal/domain"
	"courtscan/internal/interact"
)

const DefaultAttempts = 2

// Scanner drives one page from a blank tab to the extracted slots.
type Scanner interface {
	Scan(ctx context.Context, page browser.Page, court int, date string) ([]string, error)
}

type ScannerFunc func(ctx context.Context, page browser.Page, court int, date string) ([]string, error)

func (f ScannerFunc) Scan(ctx context.Context, page browser.Page, court int, date string) ([]string, error) {
	return f(ctx, page, court, date)
}

// Recorder is told about every finished attempt.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error
}

type Options struct {
	Attempts int
	DebugDir string
	Recorder Recorder
	// CaptureTimeout bounds artifact capture after a failure.
	CaptureTimeout time.Duration
}

// Controller runs whole wizard passes, each on a brand-new browser, until
// one succeeds or the attempt budget is spent.
type Controller struct {
	launcher browser.Launcher
	scanner  Scanner
	opts     Options
}

func New(launcher browser.Launcher, scanner Scanner, opts Options) *Controller {
	if opts.Attempts < 1 {
		opts.Attempts = DefaultAttempts
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 15 * time.Second
	}
	return &Controller{launcher: launcher, scanner: scanner, opts: opts}
}

// Check returns the free slots of court on date. After the last failed
// attempt the error of that attempt is returned as is.
func (c *Controller) Check(ctx context.Context, jobID string, court int, date string) ([]string, error) {
	var lastErr error
	for n := 1; n <= c.opts.Attempts; n++ {
		l := log.With().Str("job_id", jobID).Int("court", court).Str("date", date).Int("attempt", n).Logger()
		actx := l.WithContext(ctx)

		slots, err := c.attempt(actx, n, court, date)
		c.record(actx, domain.AttemptRecord{
			ScanID: jobID, Date: date, Court: fmt.Sprint(court), Attempt: n, Success: err == nil, Error: errString(err),
		})
		if err == nil {
			l.Debug().Int("slots", len(slots)).Msg("attempt succeeded")
			return slots, nil
		}
		lastErr = err
		l.Warn().Err(err).Int("budget", c.opts.Attempts).Msg("attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Controller) attempt(ctx context.Context, n, court int, date string) ([]string, error) {
	b, err := c.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	sess, err := b.NewSession(ctx)
	if err != nil {
		release(ctx, nil, b)
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer release(ctx, sess, b)

	slots, err := c.scanner.Scan(ctx, sess.Page(), court, date)
	if err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CaptureTimeout)
		interact.CaptureFailureArtifacts(cctx, sess.Page(), c.opts.DebugDir, fmt.Sprintf("attempt%d_court%d_%s", n, court, date))
		cancel()
		return nil, err
	}
	return slots, nil
}

// release closes the sub-session before the browser. Errors are logged only.
func release(ctx context.Context, sess browser.Session, b browser.Browser) {
	if sess != nil {
		if err := sess.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("close session")
		}
	}
	if b != nil {
		if err := b.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("close browser")
		}
	}
}

func (c *Controller) record(ctx context.Context, rec domain.AttemptRecord) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("record attempt")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
