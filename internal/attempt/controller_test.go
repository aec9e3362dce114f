package attempt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtscan/internal/browser"
	"courtscan/internal/browser/browsertest"
	"courtscan/internal/domain"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []domain.AttemptRecord
}

func (r *memRecorder) RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func TestCheck_FirstAttemptSucceeds(t *testing.T) {
	l := &browsertest.Launcher{}
	scanner := ScannerFunc(func(ctx context.Context, page browser.Page, court int, date string) ([]string, error) {
		return []string{"06:00 AM - 07:00 AM"}, nil
	})
	rec := &memRecorder{}
	c := New(l, scanner, Options{Attempts: 2, DebugDir: t.TempDir(), Recorder: rec})

	slots, err := c.Check(context.Background(), "job1", 1, "2025-12-16")
	require.NoError(t, err)
	assert.Equal(t, []string{"06:00 AM - 07:00 AM"}, slots)
	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, []string{"launch:1", "session:1", "close-session:1", "close-browser:1"}, l.Events())
	require.Len(t, rec.recs, 1)
	assert.Equal(t, domain.AttemptRecord{ScanID: "job1", Date: "2025-12-16", Court: "1", Attempt: 1, Success: true}, rec.recs[0])
}

func TestCheck_RetriesOnFreshSession(t *testing.T) {
	dir := t.TempDir()
	l := &browsertest.Launcher{NewPage: func(n int) *browsertest.Page {
		p := browsertest.NewPage()
		p.PNG = []byte("shot")
		p.HTMLData = "<html/>"
		return p
	}}
	var pages []browser.Page
	scanner := ScannerFunc(func(ctx context.Context, page browser.Page, court int, date string) ([]string, error) {
		pages = append(pages, page)
		if len(pages) == 1 {
			return nil, &domain.StepTimeoutError{Step: "slot grid", Err: errors.New("deadline")}
		}
		return []string{}, nil
	})
	c := New(l, scanner, Options{Attempts: 2, DebugDir: dir})

	slots, err := c.Check(context.Background(), "job1", 4, "2025-12-16")
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
	require.Len(t, pages, 2)
	assert.NotSame(t, pages[0], pages[1])
	assert.Equal(t, []string{
		"launch:1", "session:1", "close-session:1", "close-browser:1",
		"launch:2", "session:2", "close-session:2", "close-browser:2",
	}, l.Events())

	_, err = os.Stat(filepath.Join(dir, "attempt1_court4_2025-12-16.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "attempt1_court4_2025-12-16.html"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "attempt2_court4_2025-12-16.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheck_BudgetExhausted(t *testing.T) {
	for _, budget := range []int{1, 2, 3} {
		l := &browsertest.Launcher{}
		calls := 0
		scanner := ScannerFunc(func(ctx context.Context, page browser.Page, court int, date string) ([]string, error) {
			calls++
			return nil, &domain.OptionNotFoundError{Option: "Wooden Court 2 | 968 Sq ft"}
		})
		rec := &memRecorder{}
		c := New(l, scanner, Options{Attempts: budget, DebugDir: t.TempDir(), Recorder: rec})

		_, err := c.Check(context.Background(), "job", 2, "2025-12-16")
		var oe *domain.OptionNotFoundError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, budget, calls)
		assert.Equal(t, budget, l.Launches())
		require.Len(t, rec.recs, budget)
		assert.False(t, rec.recs[budget-1].Success)
		assert.Contains(t, rec.recs[budget-1].Error, "option not found")
	}
}

func TestCheck_DefaultBudget(t *testing.T) {
	l := &browsertest.Launcher{}
	c := New(l, ScannerFunc(func(context.Context, browser.Page, int, string) ([]string, error) {
		return nil, errors.New("flaky")
	}), Options{})
	_, err := c.Check(context.Background(), "job", 1, "2025-12-16")
	require.Error(t, err)
	assert.Equal(t, DefaultAttempts, l.Launches())
}

func TestCheck_ReleaseErrorsAreSwallowed(t *testing.T) {
	l := &browsertest.Launcher{CloseErr: errors.New("already closed")}
	c := New(l, ScannerFunc(func(context.Context, browser.Page, int, string) ([]string, error) {
		return []string{"9am"}, nil
	}), Options{Attempts: 1})
	slots, err := c.Check(context.Background(), "job", 1, "2025-12-16")
	require.NoError(t, err)
	assert.Equal(t, []string{"9am"}, slots)
}

func TestCheck_LaunchFailure(t *testing.T) {
	l := &browsertest.Launcher{LaunchErr: errors.New("no chrome")}
	c := New(l, ScannerFunc(func(context.Context, browser.Page, int, string) ([]string, error) {
		t.Fatal("scanner must not run without a browser")
		return nil, nil
	}), Options{Attempts: 2})
	_, err := c.Check(context.Background(), "job", 1, "2025-12-16")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chrome")
	assert.Equal(t, 2, l.Launches())
}

func TestCheck_StopsWhenContextCancelled(t *testing.T) {
	l := &browsertest.Launcher{}
	ctx, cancel := context.WithCancel(context.Background())
	c := New(l, ScannerFunc(func(context.Context, browser.Page, int, string) ([]string, error) {
		cancel()
		return nil, context.Canceled
	}), Options{Attempts: 3})
	_, err := c.Check(ctx, "job", 1, "2025-12-16")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.Launches())
}
