package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rs/zerolog/log"
)

// Chrome launches Chromium through the DevTools protocol.
type Chrome struct {
	Options LaunchOptions
}

func NewChrome(opts LaunchOptions) *Chrome { return &Chrome{Options: opts} }

func (c *Chrome) Launch(ctx context.Context) (Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", c.Options.Headless))
	if c.Options.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.Options.ExecPath))
	}
	if c.Options.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.Options.UserAgent))
	}
	if c.Options.WindowWidth > 0 && c.Options.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(c.Options.WindowWidth, c.Options.WindowHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	bctx, bcancel := chromedp.NewContext(allocCtx)
	// first Run starts the browser process
	if err := chromedp.Run(bctx); err != nil {
		bcancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &chromeBrowser{ctx: bctx, cancel: bcancel, allocCancel: allocCancel}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func (b *chromeBrowser) NewSession(ctx context.Context) (Session, error) {
	tctx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tctx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromeSession{page: &chromePage{ctx: tctx}, cancel: cancel}, nil
}

func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

type chromeSession struct {
	page   *chromePage
	cancel context.CancelFunc
}

func (s *chromeSession) Page() Page { return s.page }

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.page.ctx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

type chromePage struct {
	ctx context.Context
}

// run executes actions on the tab while honouring the caller's deadline and
// cancellation. Cancelling the derived context never closes the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		rctx, dcancel = context.WithDeadline(rctx, dl)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.WaitVisible(sel, chromedp.BySearch))
}

func (p *chromePage) Click(ctx context.Context, sel string, force bool) error {
	if force {
		return p.run(ctx, chromedp.Click(sel, chromedp.BySearch, chromedp.NodeReady))
	}
	return p.run(ctx, chromedp.Click(sel, chromedp.BySearch))
}

const scriptClickJS = `(function(sel) {
	var el = (sel.startsWith('/') || sel.startsWith('('))
		? document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(sel);
	if (!el) { return false; }
	el.click();
	return true;
})(%s)`

func (p *chromePage) ScriptClick(ctx context.Context, sel string) error {
	arg, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(scriptClickJS, arg), &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no element matches %s", sel)
	}
	return nil
}

func (p *chromePage) ScrollIntoView(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.ScrollIntoView(sel, chromedp.BySearch))
}

func (p *chromePage) Focus(ctx context.Context, sel string) error {
	return p.run(ctx, chromedp.Focus(sel, chromedp.BySearch, chromedp.NodeReady))
}

func (p *chromePage) PressKey(ctx context.Context, key Key) error {
	switch key {
	case KeyEscape:
		return p.run(ctx, chromedp.KeyEvent(kb.Escape))
	default:
		return p.run(ctx, chromedp.KeyEvent(string(key)))
	}
}

func (p *chromePage) Fill(ctx context.Context, sel, text string) error {
	return p.run(ctx,
		chromedp.Clear(sel, chromedp.BySearch),
		chromedp.SendKeys(sel, text, chromedp.BySearch),
	)
}

func (p *chromePage) nodes(ctx context.Context, sel string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (p *chromePage) Count(ctx context.Context, sel string) (int, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (p *chromePage) Elements(ctx context.Context, sel string) ([]Element, error) {
	nodes, err := p.nodes(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &chromeElement{page: p, id: n.NodeID})
	}
	return out, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 yields PNG
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

type chromeElement struct {
	page *chromePage
	id   cdp.NodeID
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var txt string
	if err := e.page.run(ctx, chromedp.Text([]cdp.NodeID{e.id}, &txt, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	return txt, nil
}

func (e *chromeElement) ComputedStyle(ctx context.Context, prop string) (string, error) {
	var props []*css.ComputedStyleProperty
	if err := e.page.run(ctx, chromedp.ComputedStyle([]cdp.NodeID{e.id}, &props, chromedp.ByNodeID)); err != nil {
		return "", err
	}
	for _, p := range props {
		if strings.EqualFold(p.Name, prop) {
			return p.Value, nil
		}
	}
	log.Debug().Str("prop", prop).Msg("computed style property missing")
	return "", nil
}
