package wizard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtscan/internal/browser"
	"courtscan/internal/browser/browsertest"
	"courtscan/internal/config"
	"courtscan/internal/domain"
)

const testDate = "2025-12-16"

func testSite(t *testing.T) *config.Site {
	t.Helper()
	s, err := config.ParseSite([]byte(`
url: http://portal.test/book
timeouts:
  step: 50ms
  dropdown: 50ms
  date_strip: 50ms
  slot_grid: 50ms
  navigation: 50ms
settle:
  major: 0s
  minor: 0s
  grid: 0s
`))
	require.NoError(t, err)
	return s
}

func testWizard(t *testing.T) (*Wizard, *config.Site) {
	site := testSite(t)
	it := NewInteractor(site)
	it.Pause = 0
	it.ProbeTimeout = 5 * time.Millisecond
	it.ClickTimeout = 50 * time.Millisecond
	return New(site, it), site
}

// readyPage renders every wizard screen at once so the happy path completes.
func readyPage(w *Wizard, site *config.Site, court int) *browsertest.Page {
	p := browsertest.NewPage()
	for _, sel := range []string{
		site.NextButton, site.Complex.Trigger, site.Complex.SearchBox, site.Dropdown.OptionList,
		site.BookingType, w.dropdown(site.Facility.Placeholder, ""), w.dropdown(site.SubFacility.Placeholder, ""),
		site.DateStrip, site.SlotCell,
	} {
		p.SetVisible(sel, true)
	}
	p.SetCount(w.it.OptionSelector(site.Complex.Option), 1)
	p.SetCount(w.it.OptionSelector(site.Facility.Option), 1)
	p.SetCount(w.it.OptionSelector(site.CourtOption(court)), 1)
	p.SetCount(site.DateButton(testDate), 1)
	p.Elems[site.SlotCell] = []browser.Element{
		browsertest.Cell("06:00 AM - 07:00 AM", "1", "auto"),
		browsertest.Cell("07:00 AM - 08:00 AM", "0.5", "none"),
		browsertest.Cell("Morning", "1", "auto"),
		browsertest.Cell("08:00 PM - 09:00 PM", "1", "auto"),
	}
	return p
}

func TestScan_HappyPath(t *testing.T) {
	w, site := testWizard(t)
	page := readyPage(w, site, 3)

	slots, err := w.Scan(context.Background(), page, 3, testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{"06:00 AM - 07:00 AM", "08:00 PM - 09:00 PM"}, slots)

	calls := page.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "navigate:http://portal.test/book", calls[0])
	assert.Contains(t, calls, "fill:"+site.Complex.SearchBox+"=shah")
	assert.Contains(t, calls, "click:"+w.it.OptionSelector(site.CourtOption(3)))
	assert.Contains(t, calls, "click:"+site.DateButton(testDate))
	assert.Equal(t, 4, page.CountCalls("click:"+site.NextButton))
}

func TestSteps_Order(t *testing.T) {
	w, _ := testWizard(t)
	var names []string
	for _, s := range w.Steps(browsertest.NewPage(), 1, testDate) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"Landing", "Advance", "SelectComplex", "SelectBookingType", "SelectFacility",
		"SelectSubFacility", "Advance", "SelectDate", "WaitForSlotGrid",
	}, names)
}

func TestScan_DateNotOffered(t *testing.T) {
	w, site := testWizard(t)
	page := readyPage(w, site, 1)
	page.SetCount(site.DateButton(testDate), 0)
	page.SetCount(site.DateButton("2025-12-17"), 1)

	_, err := w.Scan(context.Background(), page, 1, testDate)
	var de *domain.DateNotOfferedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, testDate, de.Date)
	assert.Contains(t, err.Error(), "step SelectDate")
	for _, c := range page.Calls() {
		assert.False(t, strings.Contains(c, "2025-12-17") && !strings.HasPrefix(c, "count:"), c)
	}
	assert.Zero(t, page.CountCalls("elements:"))
}

func TestScan_CourtListHydratesOnReopen(t *testing.T) {
	w, site := testWizard(t)
	page := readyPage(w, site, 5)
	courtOpt := w.it.OptionSelector(site.CourtOption(5))
	page.SetCount(courtOpt, 0)
	page.OnKey = func(p *browsertest.Page, key browser.Key) {
		if key == browser.KeyEscape {
			p.SetCount(courtOpt, 1)
		}
	}

	_, err := w.Scan(context.Background(), page, 5, testDate)
	require.NoError(t, err)
	subFacility := w.dropdown(site.SubFacility.Placeholder, "")
	assert.Equal(t, 2, page.CountCalls("click:"+subFacility))
	assert.Equal(t, 1, page.CountCalls("key:Escape"))
}

func TestScan_CourtMissingAfterOneRetry(t *testing.T) {
	w, site := testWizard(t)
	page := readyPage(w, site, 6)
	page.SetCount(w.it.OptionSelector(site.CourtOption(6)), 0)

	_, err := w.Scan(context.Background(), page, 6, testDate)
	var oe *domain.OptionNotFoundError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "Wooden Court 6 | 968 Sq ft", oe.Option)
	subFacility := w.dropdown(site.SubFacility.Placeholder, "")
	assert.Equal(t, 2, page.CountCalls("click:"+subFacility))
}

func TestScan_SlotGridNeverAppears(t *testing.T) {
	w, site := testWizard(t)
	page := readyPage(w, site, 2)
	page.SetVisible(site.SlotCell, false)

	_, err := w.Scan(context.Background(), page, 2, testDate)
	var se *domain.StepTimeoutError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "slot grid", se.Step)
}

func TestExecute_StopsAtFirstFailure(t *testing.T) {
	w, _ := testWizard(t)
	page := browsertest.NewPage()
	page.SetVisible("#ready", true)
	var ran []string
	boom := errors.New("boom")
	steps := []Step{
		{Name: "one", Action: func(context.Context) error { ran = append(ran, "one"); return nil }, Success: "#ready", SuccessTimeout: time.Second},
		{Name: "two", Action: func(context.Context) error { ran = append(ran, "two"); return boom }},
		{Name: "three", Action: func(context.Context) error { ran = append(ran, "three"); return nil }},
	}
	err := Execute(context.Background(), page, w.it, steps)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"one", "two"}, ran)
}

func TestExecute_SuccessGatesNextStep(t *testing.T) {
	w, _ := testWizard(t)
	page := browsertest.NewPage()
	ranSecond := false
	steps := []Step{
		{Name: "one", Success: "#never", SuccessTimeout: 10 * time.Millisecond},
		{Name: "two", Action: func(context.Context) error { ranSecond = true; return nil }},
	}
	err := Execute(context.Background(), page, w.it, steps)
	var se *domain.StepTimeoutError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "one", se.Step)
	assert.False(t, ranSecond)
}

func TestDropdownByIDPrefix(t *testing.T) {
	w, _ := testWizard(t)
	sel := w.dropdown("ignored", "select2-facility_id-")
	assert.Contains(t, sel, "starts-with(@id, 'select2-facility_id-')")
	assert.NotContains(t, sel, "ignored")
}
