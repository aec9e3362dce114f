package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrorMarker is the outcome recorded for a court whose check failed.
const ErrorMarker = "ERROR"

// MaxSpanDays is the widest inclusive date window a scan may cover.
const MaxSpanDays = 3

// DateLayout is the wire and storage format for scan dates.
const DateLayout = "2006-01-02"

// Outcome is the result of checking one court on one day: either the
// available slot labels in page order or the error marker.
type Outcome struct {
	Slots  []string
	Failed bool
}

func SlotsOutcome(slots []string) Outcome {
	if slots == nil {
		slots = []string{}
	}
	return Outcome{Slots: slots}
}

func FailedOutcome() Outcome { return Outcome{Failed: true} }

func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Failed {
		return json.Marshal(ErrorMarker)
	}
	if o.Slots == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o.Slots)
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != ErrorMarker {
			return fmt.Errorf("outcome: unexpected string %q", s)
		}
		*o = FailedOutcome()
		return nil
	}
	var slots []string
	if err := json.Unmarshal(b, &slots); err != nil {
		return err
	}
	*o = SlotsOutcome(slots)
	return nil
}

// Results maps date -> court -> outcome.
type Results map[string]map[string]Outcome

// Set records an outcome, creating the date row on first use.
func (r Results) Set(date, court string, o Outcome) {
	row, ok := r[date]
	if !ok {
		row = map[string]Outcome{}
		r[date] = row
	}
	row[court] = o
}

// Clone returns a copy safe to hand to another goroutine.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for d, row := range r {
		cp := make(map[string]Outcome, len(row))
		for c, o := range row {
			cp[c] = o
		}
		out[d] = cp
	}
	return out
}

type EventType string

const (
	EventLog           EventType = "log"
	EventResultPartial EventType = "result_partial"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one frame of a job's progress feed. Only the fields relevant to
// Type are populated.
type Event struct {
	Type    EventType `json:"type"`
	Msg     string    `json:"msg,omitempty"`
	Date    string    `json:"date,omitempty"`
	Court   string    `json:"court,omitempty"`
	Value   *Outcome  `json:"value,omitempty"`
	Results Results   `json:"results,omitempty"`
}

// MarshalJSON always writes the results object on a done event, even when
// the table is empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventDone {
		return json.Marshal(plain(e))
	}
	results := e.Results
	if results == nil {
		results = Results{}
	}
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Results Results   `json:"results"`
	}{e.Type, results})
}

func LogEvent(msg string) Event { return Event{Type: EventLog, Msg: msg} }

func ErrorEvent(msg string) Event { return Event{Type: EventError, Msg: msg} }

func PartialEvent(date, court string, o Outcome) Event {
	return Event{Type: EventResultPartial, Date: date, Court: court, Value: &o}
}

func DoneEvent(results Results) Event {
	if results == nil {
		results = Results{}
	}
	return Event{Type: EventDone, Results: results}
}

// Scan is the persisted view of a job.
type Scan struct {
	ID         string
	StartDate  string
	EndDate    string
	State      string
	Results    Results
	CreatedAt  time.Time
	FinishedAt *time.Time
}

const (
	ScanRunning   = "running"
	ScanFinished  = "finished"
	ScanAbandoned = "abandoned"
)

// AttemptRecord describes one browser pass for a (date, court) pair.
type AttemptRecord struct {
	ScanID  string `json:"scan_id"`
	Date    string `json:"date"`
	Court   string `json:"court"`
	Attempt int    `json:"attempt"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
