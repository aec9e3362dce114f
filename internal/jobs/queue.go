package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"courtscan/internal/domain"
)

// ErrPopTimeout is returned by Pop when no event arrived within the wait.
var ErrPopTimeout = errors.New("no event within wait")

// EventQueue is an unbounded FIFO for one producer and one consumer.
type EventQueue struct {
	mu     sync.Mutex
	items  []domain.Event
	notify chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{notify: make(chan struct{}, 1)}
}

func (q *EventQueue) Push(e domain.Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest event, waiting up to wait for one to arrive.
func (q *EventQueue) Pop(ctx context.Context, wait time.Duration) (domain.Event, error) {
	var timer *time.Timer
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = domain.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		}
		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-timer.C:
			return domain.Event{}, ErrPopTimeout
		case <-q.notify:
		}
	}
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
