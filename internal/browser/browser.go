package browser

import (
	"context"
	"time"
)

// Key is a key name accepted by Page.PressKey.
type Key string

const KeyEscape Key = "Escape"

// LaunchOptions are fixed once per browser process.
type LaunchOptions struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
}

// Launcher starts a top-level browser. Every attempt gets its own.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is an isolated sub-session (tab) owning exactly one page.
type Session interface {
	Page() Page
	Close() error
}

// Page is the DOM capability used by the wizard. Selectors are CSS or XPath;
// operations act on the first match. Timeouts come from ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string) error
	// Click with force skips the visibility wait.
	Click(ctx context.Context, sel string, force bool) error
	// ScriptClick calls el.click() from page script on the first match.
	ScriptClick(ctx context.Context, sel string) error
	ScrollIntoView(ctx context.Context, sel string) error
	Focus(ctx context.Context, sel string) error
	PressKey(ctx context.Context, key Key) error
	Fill(ctx context.Context, sel, text string) error
	// Count never waits; zero matches is not an error.
	Count(ctx context.Context, sel string) (int, error)
	Elements(ctx context.Context, sel string) ([]Element, error)
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}

// Element is a handle on a single matched node.
type Element interface {
	Text(ctx context.Context) (string, error)
	// ComputedStyle reads a live rendered CSS property such as "opacity".
	ComputedStyle(ctx context.Context, prop string) (string, error)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithTimeout derives a per-operation context; d <= 0 means no extra limit.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
