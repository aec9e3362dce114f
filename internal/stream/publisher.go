package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"courtscan/internal/domain"
	"courtscan/internal/jobs"
)

// DefaultKeepAlive is how long a subscriber waits for an event before a
// keep-alive frame is written.
const DefaultKeepAlive = 300 * time.Second

var (
	keepAliveFrame     = []byte("data: {}\n\n")
	unserializableBody = []byte(`{"type":"log","msg":"<unserializable>"}`)
)

// Lookup resolves a job id to its live job.
type Lookup interface {
	Get(id string) (*jobs.Job, bool)
}

// Publisher turns a job's event queue into server-sent event frames.
type Publisher struct {
	jobs      Lookup
	keepAlive time.Duration
	marshal   func(any) ([]byte, error)
}

func NewPublisher(l Lookup, keepAlive time.Duration) *Publisher {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Publisher{jobs: l, keepAlive: keepAlive, marshal: json.Marshal}
}

// Frame wraps a payload as one event-stream frame.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}

// Subscribe writes the job's events through emit until the done event has
// been written, the subscriber goes away, or ctx is cancelled. A disconnect
// is not an error.
func (p *Publisher) Subscribe(ctx context.Context, jobID string, emit func(frame []byte) error) error {
	job, ok := p.jobs.Get(jobID)
	if !ok {
		body, _ := p.encode(domain.ErrorEvent(domain.ErrJobNotFound.Error()))
		if err := emit(Frame(body)); err != nil {
			log.Debug().Err(err).Str("job_id", jobID).Msg("subscriber gone")
		}
		return nil
	}

	l := log.With().Str("job_id", jobID).Logger()
	for {
		ev, err := job.Events.Pop(ctx, p.keepAlive)
		switch {
		case errors.Is(err, jobs.ErrPopTimeout):
			if err := emit(keepAliveFrame); err != nil {
				l.Debug().Err(err).Msg("subscriber gone")
				return nil
			}
			continue
		case err != nil:
			l.Debug().Err(err).Msg("subscription cancelled")
			return nil
		}

		body, err := p.encode(ev)
		if err != nil {
			l.Warn().Err(err).Str("type", string(ev.Type)).Msg("encode event")
		}
		if err := emit(Frame(body)); err != nil {
			l.Debug().Err(err).Msg("subscriber gone")
			return nil
		}
		if ev.Type == domain.EventDone {
			return nil
		}
	}
}

func (p *Publisher) encode(ev domain.Event) ([]byte, error) {
	b, err := p.marshal(ev)
	if err != nil {
		return unserializableBody, err
	}
	return b, nil
}
