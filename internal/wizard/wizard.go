package wizard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"courtscan/internal/browser"
	"courtscan/internal/config"
	"courtscan/internal/domain"
	"courtscan/internal/interact"
)

// Step is one stage of the booking wizard. Precondition must be visible
// before Action runs; Success must be visible before the next step starts.
type Step struct {
	Name           string
	Precondition   string
	PreTimeout     time.Duration
	Action         func(ctx context.Context) error
	Settle         time.Duration
	Success        string
	SuccessTimeout time.Duration
}

// Execute runs steps strictly in order and stops at the first failure.
func Execute(ctx context.Context, page browser.Page, it *interact.Interactor, steps []Step) error {
	for i, s := range steps {
		l := log.Ctx(ctx).With().Str("step", s.Name).Int("index", i).Logger()
		if s.Precondition != "" {
			if err := it.WaitVisible(ctx, page, s.Precondition, s.PreTimeout, s.Name+" precondition"); err != nil {
				return fmt.Errorf("step %s: %w", s.Name, err)
			}
		}
		if s.Action != nil {
			if err := s.Action(ctx); err != nil {
				return fmt.Errorf("step %s: %w", s.Name, err)
			}
		}
		if err := browser.Sleep(ctx, s.Settle); err != nil {
			return fmt.Errorf("step %s: %w", s.Name, err)
		}
		if s.Success != "" {
			if err := it.WaitVisible(ctx, page, s.Success, s.SuccessTimeout, s.Name); err != nil {
				return fmt.Errorf("step %s: %w", s.Name, err)
			}
		}
		l.Debug().Msg("step done")
	}
	return nil
}

// Wizard knows the fixed path through the booking site.
type Wizard struct {
	site *config.Site
	it   *interact.Interactor
}

func New(site *config.Site, it *interact.Interactor) *Wizard {
	return &Wizard{site: site, it: it}
}

// NewInteractor builds the primitives configured for site's dropdown widget.
func NewInteractor(site *config.Site) *interact.Interactor {
	return interact.New(site.Dropdown.OptionList, site.Dropdown.OptionItem)
}

// Scan walks the wizard to the slot grid of date for court and returns the
// free slots.
func (w *Wizard) Scan(ctx context.Context, page browser.Page, court int, date string) ([]string, error) {
	if err := Execute(ctx, page, w.it, w.Steps(page, court, date)); err != nil {
		return nil, err
	}
	cells, err := ReadCells(ctx, page, w.site.SlotCell)
	if err != nil {
		return nil, fmt.Errorf("read slot grid: %w", err)
	}
	return ExtractSlots(cells), nil
}

// Steps lists the wizard for one court and day:
// Landing, Advance, SelectComplex, SelectBookingType, SelectFacility,
// SelectSubFacility, Advance, SelectDate, WaitForSlotGrid.
func (w *Wizard) Steps(page browser.Page, court int, date string) []Step {
	s := w.site
	to := s.Timeouts
	facility := w.dropdown(s.Facility.Placeholder, s.Facility.IDPrefix)
	subFacility := w.dropdown(s.SubFacility.Placeholder, s.SubFacility.IDPrefix)

	return []Step{
		{
			Name: "Landing",
			Action: func(ctx context.Context) error {
				nctx, cancel := browser.WithTimeout(ctx, to.Navigation)
				defer cancel()
				if err := page.Navigate(nctx, s.URL); err != nil {
					return fmt.Errorf("navigate %s: %w", s.URL, err)
				}
				return nil
			},
			Settle:         s.Settle.Major,
			Success:        s.NextButton,
			SuccessTimeout: to.Step,
		},
		w.advance(page, s.Complex.Trigger, to.Step),
		{
			Name:         "SelectComplex",
			Precondition: s.Complex.Trigger,
			PreTimeout:   to.Step,
			Action: func(ctx context.Context) error {
				if err := w.it.Click(ctx, page, s.Complex.Trigger, w.it.ClickRetries); err != nil {
					return err
				}
				if s.Complex.SearchBox != "" {
					if err := w.it.WaitVisible(ctx, page, s.Complex.SearchBox, to.Step, "complex search box"); err != nil {
						return err
					}
					if err := page.Fill(ctx, s.Complex.SearchBox, s.Complex.Query); err != nil {
						return fmt.Errorf("search complex: %w", err)
					}
				}
				if err := w.it.ChooseOption(ctx, page, s.Complex.Option, to.Dropdown); err != nil {
					return err
				}
				return w.next(ctx, page)
			},
			Settle:         s.Settle.Major,
			Success:        s.BookingType,
			SuccessTimeout: to.Step,
		},
		{
			Name: "SelectBookingType",
			Action: func(ctx context.Context) error {
				if err := w.it.Click(ctx, page, s.BookingType, w.it.ClickRetries); err != nil {
					return err
				}
				return w.next(ctx, page)
			},
			Settle:         s.Settle.Major,
			Success:        facility,
			SuccessTimeout: to.Step,
		},
		{
			Name: "SelectFacility",
			Action: func(ctx context.Context) error {
				if err := w.it.OpenDropdown(ctx, page, facility, to.Dropdown); err != nil {
					return err
				}
				return w.it.ChooseOption(ctx, page, s.Facility.Option, to.Dropdown)
			},
			Settle:         s.Settle.Minor,
			Success:        subFacility,
			SuccessTimeout: to.Step,
		},
		{
			Name: "SelectSubFacility",
			Action: func(ctx context.Context) error {
				return w.selectCourt(ctx, page, subFacility, s.CourtOption(court))
			},
			Settle: s.Settle.Minor,
		},
		w.advance(page, s.DateStrip, to.DateStrip),
		{
			Name: "SelectDate",
			Action: func(ctx context.Context) error {
				return w.selectDate(ctx, page, date)
			},
		},
		{
			Name: "WaitForSlotGrid",
			Action: func(ctx context.Context) error {
				return w.it.WaitVisible(ctx, page, s.SlotCell, to.SlotGrid, "slot grid")
			},
			Settle: s.Settle.Grid,
		},
	}
}

func (w *Wizard) advance(page browser.Page, success string, timeout time.Duration) Step {
	return Step{
		Name:         "Advance",
		Precondition: w.site.NextButton,
		PreTimeout:   w.site.Timeouts.Step,
		Action: func(ctx context.Context) error {
			return w.next(ctx, page)
		},
		Settle:         w.site.Settle.Major,
		Success:        success,
		SuccessTimeout: timeout,
	}
}

// next is the Next button click shared by several steps.
func (w *Wizard) next(ctx context.Context, page browser.Page) error {
	return w.it.Click(ctx, page, w.site.NextButton, w.it.ClickRetries)
}

func (w *Wizard) dropdown(placeholder, idPrefix string) string {
	if idPrefix != "" {
		return fmt.Sprintf(w.site.Dropdown.ByIDPrefix, interact.XPathLiteral(idPrefix))
	}
	return fmt.Sprintf(w.site.Dropdown.ByPlaceholder, interact.XPathLiteral(placeholder))
}

// selectCourt picks the court from the sub-facility dropdown. The option
// list is sometimes still empty right after opening, so one full re-open and
// search is allowed before giving up.
func (w *Wizard) selectCourt(ctx context.Context, page browser.Page, control, label string) error {
	opt := w.it.OptionSelector(label)
	n, err := w.openAndCount(ctx, page, control, opt)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Ctx(ctx).Debug().Str("option", label).Msg("court option missing, reopening list")
		_ = page.PressKey(ctx, browser.KeyEscape)
		if err := browser.Sleep(ctx, w.site.Settle.Minor); err != nil {
			return err
		}
		if n, err = w.openAndCount(ctx, page, control, opt); err != nil {
			return err
		}
	}
	if n == 0 {
		return &domain.OptionNotFoundError{Option: label}
	}
	return w.it.Click(ctx, page, opt, w.it.ClickRetries)
}

func (w *Wizard) openAndCount(ctx context.Context, page browser.Page, control, opt string) (int, error) {
	if err := w.it.OpenDropdown(ctx, page, control, w.site.Timeouts.Dropdown); err != nil {
		return 0, err
	}
	if err := w.it.WaitVisible(ctx, page, w.site.Dropdown.OptionList, w.site.Timeouts.Dropdown, "court options"); err != nil {
		return 0, err
	}
	n, err := page.Count(ctx, opt)
	if err != nil {
		return 0, fmt.Errorf("count court options: %w", err)
	}
	return n, nil
}

// selectDate clicks the button whose date attribute equals date exactly.
// A missing button fails the step; a neighbouring day is never used.
func (w *Wizard) selectDate(ctx context.Context, page browser.Page, date string) error {
	btn := w.site.DateButton(date)
	n, err := page.Count(ctx, btn)
	if err != nil {
		return fmt.Errorf("look up date button: %w", err)
	}
	if n == 0 {
		return &domain.DateNotOfferedError{Date: date}
	}
	sctx, cancel := browser.WithTimeout(ctx, w.site.Timeouts.Step)
	if err := page.ScrollIntoView(sctx, btn); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("date", date).Msg("scroll date button")
	}
	cancel()
	return w.it.Click(ctx, page, btn, w.it.ClickRetries)
}
