package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"courtscan/internal/domain"
)

// MaxSpanDays is the widest inclusive date window a scan may cover.
const MaxSpanDays = domain.MaxSpanDays

// Checker finds the free slots of one court on one day.
type Checker interface {
	Check(ctx context.Context, jobID string, court int, date string) ([]string, error)
}

// Runner executes background work off the request path.
type Runner interface {
	Go(name string, fn func(ctx context.Context))
}

// Store persists scans; it is optional and failures never affect a job.
type Store interface {
	CreateScan(ctx context.Context, s domain.Scan) error
	FinishScan(ctx context.Context, id string, results domain.Results, at time.Time) error
}

// Job is one scan request: its live event feed and, once finished, its
// result table.
type Job struct {
	ID        string
	StartDate string
	EndDate   string
	CreatedAt time.Time
	Events    *EventQueue

	mu         sync.Mutex
	results    domain.Results
	finished   bool
	finishedAt time.Time
}

func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

// Results is a copy of the final table; empty while running.
func (j *Job) Results() domain.Results {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.results.Clone()
}

type JobView struct {
	ID            string         `json:"id"`
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date"`
	Finished      bool           `json:"finished"`
	CreatedAt     time.Time      `json:"created_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	PendingEvents int            `json:"pending_events"`
	Results       domain.Results `json:"results"`
}

func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID: j.ID, StartDate: j.StartDate, EndDate: j.EndDate, Finished: j.finished,
		CreatedAt: j.CreatedAt, PendingEvents: j.Events.Len(), Results: j.results.Clone(),
	}
	if j.finished {
		t := j.finishedAt
		v.FinishedAt = &t
	}
	return v
}

type Options struct {
	Courts    []int
	CourtName func(court int) string
	// CourtKey names a court in the results table.
	CourtKey func(court int) string
	Store     Store
	Now       func() time.Time
}

// Coordinator owns the in-memory job registry and runs scans.
type Coordinator struct {
	mu   sync.Mutex
	jobs map[string]*Job

	checker Checker
	runner  Runner
	opts    Options
}

func NewCoordinator(checker Checker, runner Runner, opts Options) *Coordinator {
	if opts.CourtName == nil {
		opts.CourtName = func(c int) string { return "Court " + strconv.Itoa(c) }
	}
	if opts.CourtKey == nil {
		opts.CourtKey = strconv.Itoa
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{jobs: map[string]*Job{}, checker: checker, runner: runner, opts: opts}
}

// DateRange validates a request window and expands it to every day in it.
// An empty end means a single-day scan.
func DateRange(start, end string) ([]string, error) {
	if start == "" {
		return nil, &domain.InvalidRangeError{Msg: "start_date is required"}
	}
	if end == "" {
		end = start
	}
	sd, err := time.Parse(domain.DateLayout, start)
	if err != nil {
		return nil, &domain.InvalidRangeError{Msg: "dates must be YYYY-MM-DD", Err: err}
	}
	ed, err := time.Parse(domain.DateLayout, end)
	if err != nil {
		return nil, &domain.InvalidRangeError{Msg: "dates must be YYYY-MM-DD", Err: err}
	}
	if ed.Before(sd) {
		return nil, &domain.InvalidRangeError{Msg: "end_date must be same or after start_date"}
	}
	if days := int(ed.Sub(sd).Hours()/24) + 1; days > MaxSpanDays {
		return nil, &domain.InvalidRangeError{Msg: fmt.Sprintf("Maximum allowed window is %d days", MaxSpanDays)}
	}
	var out []string
	for d := sd; !d.After(ed); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(domain.DateLayout))
	}
	return out, nil
}

// SubmitScan registers a job for the window and starts it in the
// background. It returns as soon as the job exists.
func (c *Coordinator) SubmitScan(ctx context.Context, start, end string) (string, error) {
	dates, err := DateRange(start, end)
	if err != nil {
		return "", err
	}
	job := &Job{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		StartDate: dates[0],
		EndDate:   dates[len(dates)-1],
		CreatedAt: c.opts.Now(),
		Events:    NewEventQueue(),
		results:   domain.Results{},
	}
	c.mu.Lock()
	c.jobs[job.ID] = job
	c.mu.Unlock()

	if c.opts.Store != nil {
		if err := c.opts.Store.CreateScan(ctx, domain.Scan{
			ID: job.ID, StartDate: job.StartDate, EndDate: job.EndDate, State: domain.ScanRunning, CreatedAt: job.CreatedAt,
		}); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("persist scan")
		}
	}

	log.Info().Str("job_id", job.ID).Str("start", job.StartDate).Str("end", job.EndDate).Msg("scan submitted")
	c.runner.Go("scan "+job.ID, func(ctx context.Context) {
		c.run(ctx, job, dates)
	})
	return job.ID, nil
}

func (c *Coordinator) run(ctx context.Context, job *Job, dates []string) {
	l := log.With().Str("job_id", job.ID).Logger()
	results := domain.Results{}
	for _, date := range dates {
		for _, court := range c.opts.Courts {
			label := fmt.Sprintf("%s %s", date, c.opts.CourtName(court))
			key := c.opts.CourtKey(court)

			job.Events.Push(domain.LogEvent(label + ": checking..."))
			l.Info().Str("date", date).Int("court", court).Msg("checking")

			var outcome domain.Outcome
			slots, err := c.checker.Check(ctx, job.ID, court, date)
			if err != nil {
				outcome = domain.FailedOutcome()
				job.Events.Push(domain.LogEvent(fmt.Sprintf("%s: ERROR: %v", label, err)))
				l.Error().Err(err).Str("date", date).Int("court", court).Msg("court check failed")
			} else {
				outcome = domain.SlotsOutcome(slots)
				job.Events.Push(domain.LogEvent(fmt.Sprintf("%s: OK (%d slots)", label, len(outcome.Slots))))
				l.Info().Str("date", date).Int("court", court).Int("slots", len(outcome.Slots)).Msg("court checked")
			}
			results.Set(date, key, outcome)
			job.Events.Push(domain.PartialEvent(date, key, outcome))
		}
	}

	job.Events.Push(domain.DoneEvent(results.Clone()))
	finishedAt := c.finish(job, results)
	l.Info().Msg("scan finished")

	if c.opts.Store != nil {
		if err := c.opts.Store.FinishScan(context.WithoutCancel(ctx), job.ID, results, finishedAt); err != nil {
			l.Warn().Err(err).Msg("persist scan results")
		}
	}
}

func (c *Coordinator) finish(job *Job, results domain.Results) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	job.mu.Lock()
	defer job.mu.Unlock()
	job.results = results
	job.finished = true
	job.finishedAt = c.opts.Now()
	return job.finishedAt
}

// Get looks a job up. ok is false only for unknown ids, never for running jobs.
func (c *Coordinator) Get(id string) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	return j, ok
}

func (c *Coordinator) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[id]; !ok {
		return false
	}
	delete(c.jobs, id)
	return true
}

// Reap drops jobs that finished more than ttl ago and returns how many.
func (c *Coordinator) Reap(ttl time.Duration) int {
	cutoff := c.opts.Now().Add(-ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, j := range c.jobs {
		j.mu.Lock()
		expired := j.finished && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(c.jobs, id)
			n++
		}
	}
	return n
}

type Stats struct {
	Running  int
	Finished int
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s Stats
	for _, j := range c.jobs {
		if j.Finished() {
			s.Finished++
		} else {
			s.Running++
		}
	}
	return s
}
