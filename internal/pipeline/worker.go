package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dreamware/payrelay/internal/inflight"
	"github.com/dreamware/payrelay/internal/payment"
	"github.com/dreamware/payrelay/internal/store"
	"github.com/dreamware/payrelay/internal/upstream"
)

const (
	// DefaultWorkers is the fixed size of the drain pool.
	DefaultWorkers = 8
	// DefaultMaxInflight caps concurrent upstream calls across all workers.
	DefaultMaxInflight = 100
	// DefaultMaxRetries bounds dispatch attempts per payment before giving up.
	DefaultMaxRetries = 64

	maxBackoff = 250 * time.Millisecond
)

// Config wires a worker pool to its collaborators. Zero counts fall back to
// the package defaults.
type Config struct {
	Queue         *Queue
	Client        *upstream.Client
	DefaultStore  *store.Aggregate
	FallbackStore *store.Aggregate
	Tracker       *inflight.Tracker
	Workers       int
	MaxInflight   int64
	MaxRetries    int
}

// Pool is the fixed set of workers draining the dispatch queue. It owns the
// failover policy: which upstream a job goes to, what each response status
// means, and when a payment is abandoned.
type Pool struct {
	queue         *Queue
	client        *upstream.Client
	defaultStore  *store.Aggregate
	fallbackStore *store.Aggregate
	tracker       *inflight.Tracker
	sem           *semaphore.Weighted
	workers       int
	maxRetries    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds a pool from cfg. The pool's context is detached from any
// request: client disconnects must not cancel in-progress upstream POSTs.
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:         cfg.Queue,
		client:        cfg.Client,
		defaultStore:  cfg.DefaultStore,
		fallbackStore: cfg.FallbackStore,
		tracker:       cfg.Tracker,
		sem:           semaphore.NewWeighted(cfg.MaxInflight),
		workers:       cfg.Workers,
		maxRetries:    cfg.MaxRetries,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	log.Printf("worker pool started with %d workers", p.workers)
}

// Stop cancels all workers and waits for them to exit. Queued jobs are left
// behind; aggregates are in-memory anyway, so shutdown loses nothing durable.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	log.Println("worker pool stopped")
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queue.ch:
			p.process(job)
		case <-p.ctx.Done():
			return
		}
	}
}

// process performs one dispatch attempt. The in-flight guard spans the whole
// attempt including a re-enqueue, so a bounded summary never observes the
// payment as neither pending nor recorded. The semaphore permit is returned
// as soon as the upstream call resolves; backoff and re-enqueue must not eat
// into upstream concurrency.
func (p *Pool) process(job Job) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return // shutting down
	}
	guard := p.tracker.Register(job.Payment.TimestampMicros())
	defer guard.Release()

	proc := payment.ForRetry(job.Retries)
	outcome, err := p.client.SubmitPayment(p.ctx, proc, job.Payment)
	p.sem.Release(1)

	switch outcome {
	case upstream.OutcomeAccepted:
		p.storeFor(proc).Record(job.Payment.TimestampMicros(), job.Payment.AmountCents())

	case upstream.OutcomeRetryable:
		if job.Retries >= p.maxRetries {
			log.Printf("giving up on payment %s after %d attempts: %v",
				job.Payment.CorrelationID, job.Retries+1, err)
			return
		}
		p.backoff(job.Retries)
		requeue := Job{Payment: job.Payment, Retries: job.Retries + 1}
		if qErr := p.queue.Enqueue(p.ctx, requeue); qErr != nil {
			log.Printf("dropping payment %s during shutdown: %v", job.Payment.CorrelationID, qErr)
		}

	case upstream.OutcomeRejected:
		log.Printf("payment %s rejected by %s processor: %v", job.Payment.CorrelationID, proc, err)
	}
}

func (p *Pool) storeFor(proc payment.Processor) *store.Aggregate {
	if proc == payment.ProcessorFallback {
		return p.fallbackStore
	}
	return p.defaultStore
}

// backoff sleeps briefly before a retry, scaled by how often the job has
// already failed and capped at maxBackoff.
func (p *Pool) backoff(retries int) {
	d := time.Duration(retries+1) * 10 * time.Millisecond
	if d > maxBackoff {
		d = maxBackoff
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.ctx.Done():
	}
}
