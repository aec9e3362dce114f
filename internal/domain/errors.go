package domain

import (
	"errors"
	"fmt"
)

var ErrJobNotFound = errors.New("unknown job_id")

// InvalidRangeError rejects a scan request before any job exists.
type InvalidRangeError struct {
	Msg string
	Err error
}

func (e *InvalidRangeError) Error() string { return e.Msg }
func (e *InvalidRangeError) Unwrap() error { return e.Err }

// InteractionError means every click strategy against Target failed.
type InteractionError struct {
	Action string
	Target string
	Err    error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Action, e.Target, e.Err)
}
func (e *InteractionError) Unwrap() error { return e.Err }

// StepTimeoutError carries the human-readable label of the wait that expired.
type StepTimeoutError struct {
	Step     string
	Selector string
	Err      error
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s (%s): %v", e.Step, e.Selector, e.Err)
}
func (e *StepTimeoutError) Unwrap() error { return e.Err }

type OptionNotFoundError struct {
	Option string
}

func (e *OptionNotFoundError) Error() string {
	return fmt.Sprintf("option not found: %s", e.Option)
}

// DateNotOfferedError is raised when the slot page has no button for the
// requested day. Another day is never picked instead.
type DateNotOfferedError struct {
	Date string
}

func (e *DateNotOfferedError) Error() string {
	return fmt.Sprintf("date not offered: %s", e.Date)
}
