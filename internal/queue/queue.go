// Package queue serializes authenticated exchange calls per adapter instance.
// Exchanges with strictly increasing nonces reject requests that arrive out
// of nonce order, so private calls must never race on the wire. A single
// worker goroutine drains a bounded job channel; one job's failure is
// returned to its caller only and never poisons the jobs behind it.
package queue

import (
	"context"
	"errors"
	"sync"

	"tradeflow/logger"
)

var ErrClosed = errors.New("request queue closed")

const DefaultCapacity = 64

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type Queue struct {
	jobs    chan job
	log     *logger.Entry
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func New(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		jobs: make(chan job, capacity),
		log:  logger.GetLogger().WithComponent("request_queue").WithFields(logger.Fields{"adapter": name}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- q.run(j)
	}
}

func (q *Queue) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithFields(logger.Fields{"panic": r}).Error("queued request panicked")
			err = errors.New("queued request panicked")
		}
	}()
	return j.fn(j.ctx)
}

// Do runs fn after every previously queued call has settled and returns its
// error. The caller blocks until its own job completes; ctx only cancels
// waiting for a slot and jobs not yet started, a request already on the wire
// runs to completion to keep the nonce sequence intact.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return ErrClosed
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	// Enqueue while holding the lock so Close never races the send. Private
	// callers are serialized anyway, so contention here is not a concern.
	select {
	case q.jobs <- j:
		q.closeMu.Unlock()
	case <-ctx.Done():
		q.closeMu.Unlock()
		return ctx.Err()
	}
	return <-j.done
}

// Close stops the worker after the queued jobs drain. Subsequent Do calls
// fail with ErrClosed.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.closeMu.Unlock()
	q.wg.Wait()
}
