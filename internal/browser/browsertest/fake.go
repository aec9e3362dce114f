// Package browsertest provides an in-memory browser for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"courtscan/internal/browser"
)

var ErrNotVisible = errors.New("not visible")

// Page is a scriptable browser.Page. Visibility and element lists are keyed
// by the exact selector string the caller uses.
type Page struct {
	mu sync.Mutex

	Visible  map[string]bool
	Counts   map[string]int
	Elems    map[string][]browser.Element
	HTMLData string
	PNG      []byte

	NavigateErr   error
	ScreenshotErr error
	HTMLErr       error

	// ClickErr decides the result of Click; nil means success.
	ClickErr func(sel string, force bool) error
	// ScriptClickErr decides the result of ScriptClick; nil means success.
	ScriptClickErr func(sel string) error
	// OnClick runs after any successful click strategy.
	OnClick func(p *Page, sel string)
	// OnKey runs after a key press.
	OnKey func(p *Page, key browser.Key)

	calls []string
}

func NewPage() *Page {
	return &Page{
		Visible: map[string]bool{},
		Counts:  map[string]int{},
		Elems:   map[string][]browser.Element{},
	}
}

func (p *Page) record(c string) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

// Calls returns the recorded operations, e.g. "click:#next".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CountCalls counts recorded operations with the given prefix.
func (p *Page) CountCalls(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *Page) SetVisible(sel string, v bool) {
	p.mu.Lock()
	p.Visible[sel] = v
	p.mu.Unlock()
}

func (p *Page) SetCount(sel string, n int) {
	p.mu.Lock()
	p.Counts[sel] = n
	p.mu.Unlock()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate:" + url)
	return p.NavigateErr
}

func (p *Page) WaitVisible(ctx context.Context, sel string) error {
	p.record("wait:" + sel)
	p.mu.Lock()
	v := p.Visible[sel]
	p.mu.Unlock()
	if v {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", sel, ErrNotVisible)
}

func (p *Page) Click(ctx context.Context, sel string, force bool) error {
	if force {
		p.record("force:" + sel)
	} else {
		p.record("click:" + sel)
	}
	if p.ClickErr != nil {
		if err := p.ClickErr(sel, force); err != nil {
			return err
		}
	}
	if p.OnClick != nil {
		p.OnClick(p, sel)
	}
	return nil
}

func (p *Page) ScriptClick(ctx context.Context, sel string) error {
	p.record("script:" + sel)
	if p.ScriptClickErr != nil {
		if err := p.ScriptClickErr(sel); err != nil {
			return err
		}
	}
	if p.OnClick != nil {
		p.OnClick(p, sel)
	}
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, sel string) error {
	p.record("scroll:" + sel)
	return nil
}

func (p *Page) Focus(ctx context.Context, sel string) error {
	p.record("focus:" + sel)
	return nil
}

func (p *Page) PressKey(ctx context.Context, key browser.Key) error {
	p.record("key:" + string(key))
	if p.OnKey != nil {
		p.OnKey(p, key)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, sel, text string) error {
	p.record("fill:" + sel + "=" + text)
	return nil
}

func (p *Page) Count(ctx context.Context, sel string) (int, error) {
	p.record("count:" + sel)
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.Counts[sel]; ok {
		return n, nil
	}
	return len(p.Elems[sel]), nil
}

func (p *Page) Elements(ctx context.Context, sel string) ([]browser.Element, error) {
	p.record("elements:" + sel)
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Element(nil), p.Elems[sel]...), nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.record("screenshot")
	return p.PNG, p.ScreenshotErr
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.record("html")
	return p.HTMLData, p.HTMLErr
}

// Element is a static element with fixed text and computed styles.
type Element struct {
	TextValue string
	Styles    map[string]string
}

// Cell builds a slot cell element.
func Cell(text, opacity, pointerEvents string) *Element {
	return &Element{TextValue: text, Styles: map[string]string{"opacity": opacity, "pointer-events": pointerEvents}}
}

func (e *Element) Text(ctx context.Context) (string, error) { return e.TextValue, nil }

func (e *Element) ComputedStyle(ctx context.Context, prop string) (string, error) {
	return e.Styles[prop], nil
}

// Launcher hands out sessions built by NewPage and records lifecycle events.
type Launcher struct {
	mu sync.Mutex

	// NewPage builds the page for the n-th launch (1-based).
	NewPage   func(n int) *Page
	LaunchErr error
	CloseErr  error

	launches int
	events   []string
}

func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	n := l.launches
	l.events = append(l.events, fmt.Sprintf("launch:%d", n))
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	return &fakeBrowser{l: l, n: n}, nil
}

func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

func (l *Launcher) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *Launcher) event(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

type fakeBrowser struct {
	l *Launcher
	n int
}

func (b *fakeBrowser) NewSession(ctx context.Context) (browser.Session, error) {
	b.l.event(fmt.Sprintf("session:%d", b.n))
	var page *Page
	if b.l.NewPage != nil {
		page = b.l.NewPage(b.n)
	}
	if page == nil {
		page = NewPage()
	}
	return &fakeSession{b: b, page: page}, nil
}

func (b *fakeBrowser) Close() error {
	b.l.event(fmt.Sprintf("close-browser:%d", b.n))
	return b.l.CloseErr
}

type fakeSession struct {
	b    *fakeBrowser
	page *Page
}

func (s *fakeSession) Page() browser.Page { return s.page }

func (s *fakeSession) Close() error {
	s.b.l.event(fmt.Sprintf("close-session:%d", s.b.n))
	return s.b.l.CloseErr
}
