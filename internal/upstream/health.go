package upstream

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dreamware/payrelay/internal/payment"
)

// ProcessorHealth tracks the health of a single payment processor as seen by
// the periodic monitor. Copies are returned by Snapshot; the monitor's mutex
// protects the live records.
type ProcessorHealth struct {
	Processor        string    `json:"processor"`
	Status           string    `json:"status"` // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastCheck        time.Time `json:"lastCheck"`
	LastHealthy      time.Time `json:"lastHealthy"`
}

// Monitor periodically probes both processors' service-health endpoints and
// keeps the latest status per processor. It never influences which upstream a
// payment is sent to; selection is fixed by the retry-count parity rule. The
// snapshot feeds the gateway's own /health endpoint.
type Monitor struct {
	mu          sync.RWMutex
	statuses    map[payment.Processor]*ProcessorHealth
	checkFunc   func(ctx context.Context, p payment.Processor) error
	onUnhealthy func(p payment.Processor)
	interval    time.Duration
	maxFailures int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewMonitor creates a monitor over the given client, probing every interval.
// A processor is marked unhealthy after 3 consecutive failed probes.
func NewMonitor(client *Client, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		statuses:    make(map[payment.Processor]*ProcessorHealth),
		interval:    interval,
		maxFailures: 3,
		ctx:         ctx,
		cancel:      cancel,
	}
	m.checkFunc = func(ctx context.Context, p payment.Processor) error {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.CheckHealth(probeCtx, p)
	}
	return m
}

// SetOnUnhealthy registers a callback invoked once per transition into the
// unhealthy state.
func (m *Monitor) SetOnUnhealthy(cb func(p payment.Processor)) {
	m.onUnhealthy = cb
}

// Start launches the monitoring loop in its own goroutine. An initial probe
// of both processors runs immediately.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.checkAll()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkAll()
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts the monitor down and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Snapshot returns a copy of the latest health record per processor.
func (m *Monitor) Snapshot() []ProcessorHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProcessorHealth, 0, len(m.statuses))
	for _, p := range []payment.Processor{payment.ProcessorDefault, payment.ProcessorFallback} {
		if h, ok := m.statuses[p]; ok {
			out = append(out, *h)
		}
	}
	return out
}

func (m *Monitor) checkAll() {
	for _, p := range []payment.Processor{payment.ProcessorDefault, payment.ProcessorFallback} {
		m.checkProcessor(p)
	}
}

func (m *Monitor) checkProcessor(p payment.Processor) {
	m.mu.Lock()
	health, ok := m.statuses[p]
	if !ok {
		health = &ProcessorHealth{
			Processor:   p.String(),
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		m.statuses[p] = health
	}
	m.mu.Unlock()

	err := m.checkFunc(m.ctx, p)

	m.mu.Lock()
	defer m.mu.Unlock()

	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		log.Printf("health check failed for %s processor (attempt %d/%d): %v",
			p, health.ConsecutiveFails, m.maxFailures, err)

		if health.ConsecutiveFails >= m.maxFailures {
			previous := health.Status
			health.Status = "unhealthy"
			if previous != "unhealthy" && m.onUnhealthy != nil {
				log.Printf("%s processor marked unhealthy after %d failures", p, health.ConsecutiveFails)
				// Callback runs without the lock held.
				go m.onUnhealthy(p)
			}
		}
		return
	}

	if health.Status == "unhealthy" {
		log.Printf("%s processor recovered", p)
	}
	health.Status = "healthy"
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}
