package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"courtscan/internal/domain"
)

//go:embed default_site.yaml
var defaultSiteYAML []byte

// Site describes the target booking wizard: URL, labels and selectors.
// Selectors are CSS or XPath; *_format fields are fmt templates.
type Site struct {
	URL        string `yaml:"url"`
	NextButton string `yaml:"next_button"`

	Complex struct {
		Trigger   string `yaml:"trigger"`
		SearchBox string `yaml:"search_box"`
		Query     string `yaml:"query"`
		Option    string `yaml:"option"`
	} `yaml:"complex"`

	BookingType string `yaml:"booking_type"`

	// Dropdowns are located by IDPrefix when set, else by Placeholder.
	Facility struct {
		Placeholder string `yaml:"placeholder"`
		IDPrefix    string `yaml:"id_prefix"`
		Option      string `yaml:"option"`
	} `yaml:"facility"`

	SubFacility struct {
		Placeholder  string `yaml:"placeholder"`
		IDPrefix     string `yaml:"id_prefix"`
		OptionFormat string `yaml:"option_format"`
	} `yaml:"sub_facility"`

	CourtNameFormat string `yaml:"court_name_format"`
	Courts          []int  `yaml:"courts"`

	Dropdown struct {
		ByPlaceholder string `yaml:"by_placeholder"`
		ByIDPrefix    string `yaml:"by_id_prefix"`
		OptionList    string `yaml:"option_list"`
		OptionItem    string `yaml:"option_item"`
	} `yaml:"dropdown"`

	DateStrip        string `yaml:"date_strip"`
	DateButtonFormat string `yaml:"date_button_format"`
	SlotCell         string `yaml:"slot_cell"`

	Timeouts struct {
		Step       time.Duration `yaml:"step"`
		Dropdown   time.Duration `yaml:"dropdown"`
		DateStrip  time.Duration `yaml:"date_strip"`
		SlotGrid   time.Duration `yaml:"slot_grid"`
		Navigation time.Duration `yaml:"navigation"`
	} `yaml:"timeouts"`

	Settle struct {
		Major time.Duration `yaml:"major"`
		Minor time.Duration `yaml:"minor"`
		Grid  time.Duration `yaml:"grid"`
	} `yaml:"settle"`

	Schedules []Schedule `yaml:"schedules"`
}

// Schedule triggers a recurring scan starting OffsetDays from today and
// covering SpanDays days.
type Schedule struct {
	Name       string `yaml:"name"`
	Cron       string `yaml:"cron"`
	OffsetDays int    `yaml:"offset_days"`
	SpanDays   int    `yaml:"span_days"`
}

// DefaultSite returns the embedded profile of the real portal.
func DefaultSite() (*Site, error) {
	return ParseSite(defaultSiteYAML)
}

// LoadSite reads a profile file; an empty path yields the default profile.
func LoadSite(path string) (*Site, error) {
	if path == "" {
		return DefaultSite()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site profile: %w", err)
	}
	return ParseSite(b)
}

// ParseSite decodes a profile on top of the embedded defaults so partial
// files only need to name what differs.
func ParseSite(b []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(defaultSiteYAML, &s); err != nil {
		return nil, fmt.Errorf("parse default site profile: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse site profile: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Site) Validate() error {
	var errs []error
	if s.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if len(s.Courts) == 0 {
		errs = append(errs, errors.New("at least one court is required"))
	}
	if !strings.Contains(s.SubFacility.OptionFormat, "%d") {
		errs = append(errs, errors.New("sub_facility.option_format must contain %d"))
	}
	if !strings.Contains(s.DateButtonFormat, "%s") {
		errs = append(errs, errors.New("date_button_format must contain %s"))
	}
	if s.SlotCell == "" {
		errs = append(errs, errors.New("slot_cell is required"))
	}
	for name, d := range map[string]time.Duration{
		"step": s.Timeouts.Step, "dropdown": s.Timeouts.Dropdown,
		"date_strip": s.Timeouts.DateStrip, "slot_grid": s.Timeouts.SlotGrid,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive", name))
		}
	}
	for _, sc := range s.Schedules {
		if sc.Cron == "" {
			errs = append(errs, fmt.Errorf("schedule %q: cron is required", sc.Name))
		}
		if sc.SpanDays < 1 || sc.SpanDays > domain.MaxSpanDays {
			errs = append(errs, fmt.Errorf("schedule %q: span_days must be 1..%d", sc.Name, domain.MaxSpanDays))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid site profile: %w", errors.Join(errs...))
	}
	return nil
}

// CourtKey is the results-table key of a court.
func (s *Site) CourtKey(court int) string { return strconv.Itoa(court) }

func (s *Site) CourtName(court int) string { return fmt.Sprintf(s.CourtNameFormat, court) }

func (s *Site) CourtOption(court int) string { return fmt.Sprintf(s.SubFacility.OptionFormat, court) }

func (s *Site) DateButton(date string) string { return fmt.Sprintf(s.DateButtonFormat, date) }
