package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"courtscan/internal/config"
	"courtscan/internal/domain"
)

// Submitter starts a scan over an inclusive date window.
type Submitter interface {
	SubmitScan(ctx context.Context, start, end string) (string, error)
}

// Reaper drops finished jobs older than ttl.
type Reaper interface {
	Reap(ttl time.Duration) int
}

// Service fires recurring scans and registry reaping on a cron clock.
type Service struct {
	ctx    context.Context
	cron   *cron.Cron
	submit Submitter
	now    func() time.Time
}

func NewService(ctx context.Context, submit Submitter) *Service {
	return &Service{ctx: ctx, cron: cron.New(), submit: submit, now: time.Now}
}

// AddSchedules registers one cron entry per profile schedule.
func (s *Service) AddSchedules(schedules []config.Schedule) error {
	for _, sc := range schedules {
		next, err := NextRunTime(sc.Cron, s.now())
		if err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		if _, err := s.cron.AddFunc(sc.Cron, s.scanJob(sc)); err != nil {
			return fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		log.Info().Str("schedule", sc.Name).Str("cron", sc.Cron).Int("offset_days", sc.OffsetDays).Int("span_days", sc.SpanDays).Time("next_run", next).Msg("schedule registered")
	}
	return nil
}

// AddReaper removes finished jobs older than ttl every interval. A zero ttl
// disables reaping.
func (s *Service) AddReaper(r Reaper, ttl, every time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if every <= 0 {
		every = ttl
	}
	_, err := s.cron.AddFunc("@every "+every.String(), func() {
		if n := r.Reap(ttl); n > 0 {
			log.Info().Int("reaped", n).Dur("ttl", ttl).Msg("finished jobs dropped")
		}
	})
	return err
}

// Window is the date range a schedule covers when fired at now.
func Window(sc config.Schedule, now time.Time) (string, string) {
	span := sc.SpanDays
	if span < 1 {
		span = 1
	}
	start := now.AddDate(0, 0, sc.OffsetDays)
	end := start.AddDate(0, 0, span-1)
	return start.Format(domain.DateLayout), end.Format(domain.DateLayout)
}

func (s *Service) scanJob(sc config.Schedule) func() {
	return func() {
		start, end := Window(sc, s.now())
		id, err := s.submit.SubmitScan(s.ctx, start, end)
		if err != nil {
			log.Error().Err(err).Str("schedule", sc.Name).Str("start", start).Str("end", end).Msg("scheduled scan rejected")
			return
		}
		log.Info().Str("schedule", sc.Name).Str("job_id", id).Str("start", start).Str("end", end).Msg("scheduled scan submitted")
	}
}

// Entries reports how many cron entries are registered.
func (s *Service) Entries() int { return len(s.cron.Entries()) }

func (s *Service) Start() {
	s.cron.Start()
	log.Info().Int("entries", s.Entries()).Msg("schedule service started")
}

// Stop halts the clock and waits for running entries, up to ctx.
func (s *Service) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
