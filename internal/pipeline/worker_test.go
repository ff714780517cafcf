package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/payrelay/internal/inflight"
	"github.com/dreamware/payrelay/internal/payment"
	"github.com/dreamware/payrelay/internal/store"
	"github.com/dreamware/payrelay/internal/upstream"
)

// harness bundles a running pool with mock processors.
type harness struct {
	pool          *Pool
	queue         *Queue
	defaultStore  *store.Aggregate
	fallbackStore *store.Aggregate
	tracker       *inflight.Tracker
}

func newHarness(t *testing.T, defaultHandler, fallbackHandler http.HandlerFunc) *harness {
	t.Helper()

	defSrv := httptest.NewServer(defaultHandler)
	t.Cleanup(defSrv.Close)
	fbSrv := httptest.NewServer(fallbackHandler)
	t.Cleanup(fbSrv.Close)

	h := &harness{
		queue:         NewQueue(64),
		defaultStore:  store.NewAggregate(),
		fallbackStore: store.NewAggregate(),
		tracker:       inflight.NewTracker(),
	}
	h.pool = NewPool(Config{
		Queue:         h.queue,
		Client:        upstream.NewClient(defSrv.URL, fbSrv.URL),
		DefaultStore:  h.defaultStore,
		FallbackStore: h.fallbackStore,
		Tracker:       h.tracker,
		Workers:       4,
		MaxInflight:   16,
		MaxRetries:    8,
	})
	h.pool.Start()
	t.Cleanup(h.pool.Stop)
	return h
}

func (h *harness) submit(t *testing.T, p payment.Payment) {
	t.Helper()
	require.NoError(t, h.queue.Enqueue(context.Background(), Job{Payment: p}))
}

func testPayment(id string, amount float64) payment.Payment {
	return payment.Payment{
		CorrelationID: id,
		Amount:        amount,
		RequestedAt:   time.Now().UTC(),
	}
}

func ok(w http.ResponseWriter, r *http.Request)   { w.WriteHeader(http.StatusOK) }
func boom(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }

func TestPoolHappyPath(t *testing.T) {
	h := newHarness(t, ok, boom)

	h.submit(t, testPayment("a", 10.00))

	assert.Eventually(t, func() bool {
		count, cents := h.defaultStore.RangeSum(nil, nil)
		return count == 1 && cents == 1000
	}, 2*time.Second, 10*time.Millisecond)

	count, _ := h.fallbackStore.RangeSum(nil, nil)
	assert.Zero(t, count, "fallback must not see a payment the default accepted")
	assert.Eventually(t, func() bool { return h.tracker.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPoolFailover(t *testing.T) {
	var defaultHits atomic.Int32
	h := newHarness(t,
		func(w http.ResponseWriter, r *http.Request) {
			defaultHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		},
		ok,
	)

	h.submit(t, testPayment("b", 25.50))

	assert.Eventually(t, func() bool {
		count, cents := h.fallbackStore.RangeSum(nil, nil)
		return count == 1 && cents == 2550
	}, 2*time.Second, 10*time.Millisecond)

	count, _ := h.defaultStore.RangeSum(nil, nil)
	assert.Zero(t, count)
	assert.GreaterOrEqual(t, defaultHits.Load(), int32(1), "default must have been tried first")
}

func TestPoolRetriesOn429(t *testing.T) {
	var attempts atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	// Both upstreams share the handler so the third attempt lands wherever
	// parity sends it (retries=2 -> default).
	h := newHarness(t, handler, handler)

	h.submit(t, testPayment("c", 1.00))

	assert.Eventually(t, func() bool {
		d, _ := h.defaultStore.RangeSum(nil, nil)
		f, _ := h.fallbackStore.RangeSum(nil, nil)
		return d+f == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPoolTerminalClientError(t *testing.T) {
	var hits atomic.Int32
	h := newHarness(t,
		func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusUnprocessableEntity)
		},
		ok,
	)

	h.submit(t, testPayment("x", 5.00))

	// The job must leave the pipeline without a record on either side.
	assert.Eventually(t, func() bool {
		return h.tracker.Pending() == 0 && h.queue.Depth() == 0 && hits.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond) // no late retry
	assert.Equal(t, int32(1), hits.Load())
	d, _ := h.defaultStore.RangeSum(nil, nil)
	f, _ := h.fallbackStore.RangeSum(nil, nil)
	assert.Zero(t, d+f)
}

func TestPoolGivesUpAfterRetryCap(t *testing.T) {
	var attempts atomic.Int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}
	h := newHarness(t, handler, handler)

	h.submit(t, testPayment("doomed", 2.00))

	// MaxRetries is 8 in the harness: attempts 0..8 inclusive, then drop.
	assert.Eventually(t, func() bool { return attempts.Load() == 9 }, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return h.tracker.Pending() == 0 }, time.Second, 10*time.Millisecond)

	d, _ := h.defaultStore.RangeSum(nil, nil)
	f, _ := h.fallbackStore.RangeSum(nil, nil)
	assert.Zero(t, d+f)
}

func TestPoolKeepsInflightUntilSettled(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t,
		func(w http.ResponseWriter, r *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		},
		ok,
	)

	p := testPayment("slow", 3.00)
	ts := p.TimestampMicros()
	h.submit(t, p)

	// While the upstream holds the request, the window covering the stamp
	// must be locked and a bounded wait must block.
	require.Eventually(t, func() bool { return h.tracker.Pending() == 1 }, time.Second, 5*time.Millisecond)
	hi := ts + 1
	assert.True(t, h.tracker.IsLocked(nil, &hi))

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	err := h.tracker.WaitUntilUnlocked(waitCtx, nil, &hi)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, h.tracker.WaitUntilUnlocked(context.Background(), nil, &hi))

	// Once unlocked the record must already be visible.
	count, cents := h.defaultStore.RangeSum(&ts, &ts)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, uint64(300), cents)
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), Job{}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Depth())
}
