package interact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtscan/internal/browser"
)

// Strategy is one way of getting an interaction done.
type Strategy struct {
	Name string
	Do   func(ctx context.Context) error
}

// Escalate tries strategies in order and stops at the first success,
// pausing between failures. It returns the winning strategy's name, or all
// failures joined when none worked.
func Escalate(ctx context.Context, pause time.Duration, strategies ...Strategy) (string, error) {
	var errs []error
	for i, s := range strategies {
		err := s.Do(ctx)
		if err == nil {
			return s.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		if ctx.Err() != nil {
			break
		}
		if i < len(strategies)-1 {
			if serr := browser.Sleep(ctx, pause); serr != nil {
				break
			}
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no strategies")
	}
	return "", errors.Join(errs...)
}

// XPathLiteral quotes s for use inside an XPath expression.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// WithText narrows an XPath node set to nodes whose text contains text and
// picks the first one.
func WithText(xpath, text string) string {
	return fmt.Sprintf("(%s[contains(normalize-space(.), %s)])[1]", xpath, XPathLiteral(text))
}
