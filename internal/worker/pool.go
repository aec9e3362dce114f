package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pool runs background units with at most size of them active at once.
// Units beyond the limit wait for a free slot in their own goroutine, so Go
// never blocks the caller.
type Pool struct {
	ctx context.Context
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{ctx: ctx, sem: make(chan struct{}, size)}
}

func (p *Pool) Go(name string, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		acquired := false
		select {
		case p.sem <- struct{}{}:
			acquired = true
		case <-p.ctx.Done():
			// still run so the unit can report its outcome
		}
		defer func() {
			if acquired {
				<-p.sem
			}
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("unit", name).Interface("panic", r).Msg("background unit panicked")
			}
		}()
		log.Debug().Str("unit", name).Msg("unit started")
		fn(p.ctx)
	}()
}

// Wait blocks until every started unit has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Active reports how many units currently hold a slot.
func (p *Pool) Active() int { return len(p.sem) }
