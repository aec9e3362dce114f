package interact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"courtscan/internal/browser"
	"courtscan/internal/domain"
)

// Interactor holds the tuning shared by every primitive. The zero value is
// not usable; start from New.
type Interactor struct {
	// Pause lets the layout settle between retries.
	Pause time.Duration
	// ClickTimeout bounds each individual click strategy.
	ClickTimeout time.Duration
	// ClickRetries is how many direct/forced rounds run before the scripted click.
	ClickRetries int
	// DropdownTries is the number of open-and-check loops before the final scripted open.
	DropdownTries int
	// ProbeTimeout is how long each loop waits for the option list.
	ProbeTimeout time.Duration
	// OptionList matches visible dropdown options (CSS or XPath).
	OptionList string
	// OptionItem is an XPath for a single option, narrowed by text in ChooseOption.
	OptionItem string
}

func New(optionList, optionItem string) *Interactor {
	return &Interactor{
		Pause:         200 * time.Millisecond,
		ClickTimeout:  15 * time.Second,
		ClickRetries:  2,
		DropdownTries: 4,
		ProbeTimeout:  1500 * time.Millisecond,
		OptionList:    optionList,
		OptionItem:    optionItem,
	}
}

// Click clicks sel, escalating from a direct click to a forced click and,
// after retries failed rounds, to a script-level el.click().
func (it *Interactor) Click(ctx context.Context, page browser.Page, sel string, retries int) error {
	if retries < 1 {
		retries = 1
	}
	bounded := func(f func(context.Context) error) func(context.Context) error {
		return func(ctx context.Context) error {
			cctx, cancel := browser.WithTimeout(ctx, it.ClickTimeout)
			defer cancel()
			return f(cctx)
		}
	}
	strategies := make([]Strategy, 0, retries*2+1)
	for i := 0; i < retries; i++ {
		strategies = append(strategies,
			Strategy{Name: "click", Do: bounded(func(ctx context.Context) error { return page.Click(ctx, sel, false) })},
			Strategy{Name: "force-click", Do: bounded(func(ctx context.Context) error { return page.Click(ctx, sel, true) })},
		)
	}
	strategies = append(strategies, Strategy{Name: "script-click", Do: bounded(func(ctx context.Context) error { return page.ScriptClick(ctx, sel) })})

	used, err := Escalate(ctx, it.Pause, strategies...)
	if err != nil {
		return &domain.InteractionError{Action: "click", Target: sel, Err: err}
	}
	if used != "click" {
		log.Debug().Str("selector", sel).Str("strategy", used).Msg("click needed fallback")
	}
	return nil
}

// OpenDropdown opens the dropdown whose clickable control is sel and waits
// until its option list is visible. The widget sometimes ignores the first
// open, so the open is retried from scratch several times before a last
// scripted click gets the full timeout.
func (it *Interactor) OpenDropdown(ctx context.Context, page browser.Page, sel string, timeout time.Duration) error {
	for i := 0; i < it.DropdownTries; i++ {
		if err := ctx.Err(); err != nil {
			return &domain.InteractionError{Action: "open dropdown", Target: sel, Err: err}
		}
		it.prepare(ctx, page, sel)

		if err := it.Click(ctx, page, sel, 1); err != nil {
			log.Debug().Err(err).Str("selector", sel).Int("try", i+1).Msg("dropdown click failed")
			if serr := browser.Sleep(ctx, it.Pause); serr != nil {
				return &domain.InteractionError{Action: "open dropdown", Target: sel, Err: serr}
			}
			continue
		}

		pctx, cancel := browser.WithTimeout(ctx, it.ProbeTimeout)
		err := page.WaitVisible(pctx, it.OptionList)
		cancel()
		if err == nil {
			return nil
		}
		log.Debug().Str("selector", sel).Int("try", i+1).Msg("dropdown did not open, dismissing")
		_ = page.PressKey(ctx, browser.KeyEscape)
		if serr := browser.Sleep(ctx, it.Pause); serr != nil {
			return &domain.InteractionError{Action: "open dropdown", Target: sel, Err: serr}
		}
	}

	fctx, cancel := browser.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.ScriptClick(fctx, sel); err != nil {
		return &domain.InteractionError{Action: "open dropdown", Target: sel, Err: err}
	}
	if err := page.WaitVisible(fctx, it.OptionList); err != nil {
		return &domain.InteractionError{Action: "open dropdown", Target: sel, Err: err}
	}
	return nil
}

func (it *Interactor) prepare(ctx context.Context, page browser.Page, sel string) {
	pctx, cancel := browser.WithTimeout(ctx, it.ProbeTimeout)
	defer cancel()
	if err := page.ScrollIntoView(pctx, sel); err != nil {
		log.Debug().Err(err).Str("selector", sel).Msg("scroll into view")
	}
	if err := page.Focus(pctx, sel); err != nil {
		log.Debug().Err(err).Str("selector", sel).Msg("focus")
	}
}

// OptionSelector is the XPath of the first open option containing text.
func (it *Interactor) OptionSelector(text string) string {
	return WithText(it.OptionItem, text)
}

// ChooseOption clicks the first option containing text in an open dropdown.
func (it *Interactor) ChooseOption(ctx context.Context, page browser.Page, text string, timeout time.Duration) error {
	if err := it.WaitVisible(ctx, page, it.OptionList, timeout, "option list"); err != nil {
		return err
	}
	sel := it.OptionSelector(text)
	n, err := page.Count(ctx, sel)
	if err != nil {
		return fmt.Errorf("count options %q: %w", text, err)
	}
	if n == 0 {
		return &domain.OptionNotFoundError{Option: text}
	}
	return it.Click(ctx, page, sel, it.ClickRetries)
}

// WaitVisible waits for sel and labels any failure with the step name.
func (it *Interactor) WaitVisible(ctx context.Context, page browser.Page, sel string, timeout time.Duration, label string) error {
	wctx, cancel := browser.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.WaitVisible(wctx, sel); err != nil {
		return &domain.StepTimeoutError{Step: label, Selector: sel, Err: err}
	}
	return nil
}

// CaptureFailureArtifacts writes a full-page screenshot and the DOM under dir,
// named by tag. It never fails; problems are only logged.
func CaptureFailureArtifacts(ctx context.Context, page browser.Page, dir, tag string) {
	if page == nil || dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("create debug dir")
		return
	}
	base := filepath.Join(dir, sanitize(tag))

	if png, err := page.Screenshot(ctx); err != nil {
		log.Warn().Err(err).Str("tag", tag).Msg("capture screenshot")
	} else if err := os.WriteFile(base+".png", png, 0o644); err != nil {
		log.Warn().Err(err).Str("tag", tag).Msg("write screenshot")
	}

	if html, err := page.HTML(ctx); err != nil {
		log.Warn().Err(err).Str("tag", tag).Msg("capture html")
	} else if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		log.Warn().Err(err).Str("tag", tag).Msg("write html")
	}
}

func sanitize(tag string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, tag)
}
