package wizard

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"courtscan/internal/browser"
)

// timeOfDay matches labels such as "6:00 AM", "07:00 pm" or "9am".
var timeOfDay = regexp.MustCompile(`(?i)\d\s*(am|pm)\b`)

// Cell is a slot grid element as rendered: its text and the two computed
// styles the site uses to mark availability.
type Cell struct {
	Text          string
	Opacity       string
	PointerEvents string
}

// Available reports whether the cell is a bookable time slot. Cells without
// a time of day are decoration.
func (c Cell) Available() bool {
	if !timeOfDay.MatchString(c.Text) {
		return false
	}
	return strings.TrimSpace(c.Opacity) == "1" && strings.TrimSpace(c.PointerEvents) != "none"
}

// ExtractSlots returns the labels of available cells in page order. An empty,
// non-nil slice means the day has no free slots.
func ExtractSlots(cells []Cell) []string {
	out := []string{}
	for _, c := range cells {
		if c.Available() {
			out = append(out, strings.TrimSpace(c.Text))
		}
	}
	return out
}

// ReadCells reads text and live computed style for every slot cell.
func ReadCells(ctx context.Context, page browser.Page, sel string) ([]Cell, error) {
	elems, err := page.Elements(ctx, sel)
	if err != nil {
		return nil, err
	}
	cells := make([]Cell, 0, len(elems))
	for i, el := range elems {
		var c Cell
		if c.Text, err = el.Text(ctx); err != nil {
			return nil, fmt.Errorf("cell %d text: %w", i, err)
		}
		c.Text = strings.TrimSpace(c.Text)
		if !timeOfDay.MatchString(c.Text) {
			cells = append(cells, c)
			continue
		}
		if c.Opacity, err = el.ComputedStyle(ctx, "opacity"); err != nil {
			return nil, fmt.Errorf("cell %d opacity: %w", i, err)
		}
		if c.PointerEvents, err = el.ComputedStyle(ctx, "pointer-events"); err != nil {
			return nil, fmt.Errorf("cell %d pointer-events: %w", i, err)
		}
		cells = append(cells, c)
	}
	return cells, nil
}
