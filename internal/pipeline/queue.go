package pipeline

import (
	"context"

	"github.com/dreamware/payrelay/internal/payment"
)

// DefaultQueueCapacity bounds how many payments may sit between ingest and
// the worker pool before producers block.
const DefaultQueueCapacity = 10240

// Job is one unit of pipeline work: a payment plus how many dispatch attempts
// it has already consumed. The retry count selects the upstream.
type Job struct {
	Payment payment.Payment
	Retries int
}

// Queue is the bounded FIFO carrying jobs from ingest to the workers.
type Queue struct {
	ch chan Job
}

// NewQueue creates a queue with the given capacity; non-positive values fall
// back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Job, capacity)}
}

// Enqueue appends a job at the back of the queue, blocking while the queue is
// full. No payment is ever dropped here; the only failure is ctx ending.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of jobs currently waiting.
func (q *Queue) Depth() int {
	return len(q.ch)
}
