// Package pool provides a bounded worker pool for dispatch work that must
// not spawn one goroutine per request.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("pool: closed")

	// ErrFull is returned when the queue cannot accept more work.
	ErrFull = errors.New("pool: queue full")
)

// Job is one unit of pooled work.
type Job func(ctx context.Context) error

// Pool runs jobs on a fixed set of workers over a bounded queue. Panics
// inside a job are recovered and reported as errors so one bad handler
// cannot take a worker down.
type Pool struct {
	queue chan submission
	wg    sync.WaitGroup

	// mu serializes submissions against Close so a send can never race
	// the queue being closed.
	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

type submission struct {
	job    Job
	ctx    context.Context
	result chan error
}

// New starts a pool with the given worker count and queue capacity.
// Workers below 1 are bumped to 1; queue capacity below 0 to 0.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{queue: make(chan submission, queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues the job without waiting for a worker. It fails with
// ErrFull when the queue is at capacity.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.submitted.Add(1)

	select {
	case p.queue <- submission{job: job, ctx: ctx}:
		return nil
	default:
		p.rejected.Add(1)
		return ErrFull
	}
}

// SubmitWait enqueues the job, blocking for queue space, and returns its
// result.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.submitted.Add(1)

	s := submission{job: job, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.queue <- s:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-s.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for s := range p.queue {
		err := p.run(s)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if s.result != nil {
			s.result <- err
		}
	}
}

func (p *Pool) run(s submission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: job panicked: %v", r)
		}
	}()
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.job(s.ctx)
}

// Close stops accepting work and waits for queued jobs to drain. It blocks
// until in-flight submissions have either enqueued or been rejected.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats is a point-in-time view of pool traffic.
type Stats struct {
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
