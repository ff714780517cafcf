// Package main implements the payrelay gateway, an HTTP intermediary that
// accepts payment requests, dispatches them asynchronously to one of two
// upstream payment processors with retry and failover, and answers
// time-windowed summary queries federated with a single peer gateway.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│                  Gateway                     │
//	├──────────────────────────────────────────────┤
//	│  HTTP API:                                   │
//	│    POST /payments          - Accept payment  │
//	│    GET  /payments-summary  - Windowed totals │
//	│    GET  /health            - Instance status │
//	├──────────────────────────────────────────────┤
//	│  Pipeline:                                   │
//	│    Queue        - Bounded dispatch FIFO      │
//	│    Pool         - Workers + failover policy  │
//	│    Aggregates   - Per-processor time index   │
//	│    Tracker      - In-flight synchronization  │
//	│    Federator    - Local + peer summaries     │
//	└──────────────────────────────────────────────┘
//
// Configuration:
//   - PEER_URL: Base URL of the sibling gateway (required)
//   - LISTEN_ADDR: Listen address (default: ":3000")
//   - PROCESSOR_DEFAULT_URL: Default processor base URL
//     (default: "http://payment-processor-default:8080")
//   - PROCESSOR_FALLBACK_URL: Fallback processor base URL
//     (default: "http://payment-processor-fallback:8080")
//   - WORKERS: Worker pool size (default: 8)
//   - MAX_INFLIGHT: Max concurrent upstream calls (default: 100)
//   - QUEUE_CAPACITY: Dispatch queue capacity (default: 10240)
//   - INSTANCE_ID: Instance identifier (default: random uuid)
//
// Example usage:
//
//	PEER_URL=http://gateway-2:3000 \
//	PROCESSOR_DEFAULT_URL=http://payment-processor-default:8080 \
//	PROCESSOR_FALLBACK_URL=http://payment-processor-fallback:8080 \
//	./gateway
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/dreamware/payrelay/internal/inflight"
	"github.com/dreamware/payrelay/internal/payment"
	"github.com/dreamware/payrelay/internal/pipeline"
	"github.com/dreamware/payrelay/internal/store"
	"github.com/dreamware/payrelay/internal/summary"
	"github.com/dreamware/payrelay/internal/upstream"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

type config struct {
	listenAddr    string
	peerURL       string
	defaultURL    string
	fallbackURL   string
	instanceID    string
	workers       int
	maxInflight   int64
	queueCapacity int
}

func loadConfig() config {
	return config{
		listenAddr:    getenv("LISTEN_ADDR", ":3000"),
		peerURL:       mustGetenv("PEER_URL"),
		defaultURL:    getenv("PROCESSOR_DEFAULT_URL", "http://payment-processor-default:8080"),
		fallbackURL:   getenv("PROCESSOR_FALLBACK_URL", "http://payment-processor-fallback:8080"),
		instanceID:    getenv("INSTANCE_ID", uuid.NewString()),
		workers:       getenvInt("WORKERS", pipeline.DefaultWorkers),
		maxInflight:   int64(getenvInt("MAX_INFLIGHT", pipeline.DefaultMaxInflight)),
		queueCapacity: getenvInt("QUEUE_CAPACITY", pipeline.DefaultQueueCapacity),
	}
}

// server holds the gateway's shared state and HTTP handlers.
type server struct {
	instanceID string
	queue      *pipeline.Queue
	tracker    *inflight.Tracker
	federator  *summary.Federator
	monitor    *upstream.Monitor
}

// handlePayments accepts a payment, stamps its logical time, and hands it to
// the pipeline. The reply is fire-and-forget: 202 means "queued", nothing
// more. The enqueue blocks when the queue is full; backpressure, not drops.
func (s *server) handlePayments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req payment.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.Job{Payment: payment.Payment{
		CorrelationID: req.CorrelationID,
		Amount:        req.Amount,
		RequestedAt:   time.Now().UTC(),
	}}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSummary answers GET /payments-summary. Peer trouble maps to 502; the
// local aggregates are unaffected by a failed query.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params, err := parseSummaryParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sums, err := s.federator.Summarize(r.Context(), params)
	if err != nil {
		log.Printf("summary query failed: %v", err)
		http.Error(w, "summary unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sums)
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	InstanceID    string                     `json:"instanceId"`
	QueueDepth    int                        `json:"queueDepth"`
	PendingStamps int                        `json:"pendingStamps"`
	Processors    []upstream.ProcessorHealth `json:"processors"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		InstanceID:    s.instanceID,
		QueueDepth:    s.queue.Depth(),
		PendingStamps: s.tracker.Pending(),
	}
	if s.monitor != nil {
		resp.Processors = s.monitor.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/payments", s.handlePayments)
	mux.HandleFunc("/payments-summary", s.handleSummary)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// parseSummaryParams extracts from/to (RFC3339, UTC) and only_local from the
// query string.
func parseSummaryParams(r *http.Request) (summary.Params, error) {
	var params summary.Params
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		return params, err
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		return params, err
	}
	params.From = from
	params.To = to

	switch q.Get("only_local") {
	case "true", "1":
		params.OnlyLocal = true
	}
	return params, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func main() {
	cfg := loadConfig()

	defaultStore := store.NewAggregate()
	fallbackStore := store.NewAggregate()
	tracker := inflight.NewTracker()
	queue := pipeline.NewQueue(cfg.queueCapacity)
	client := upstream.NewClient(cfg.defaultURL, cfg.fallbackURL)

	pool := pipeline.NewPool(pipeline.Config{
		Queue:         queue,
		Client:        client,
		DefaultStore:  defaultStore,
		FallbackStore: fallbackStore,
		Tracker:       tracker,
		Workers:       cfg.workers,
		MaxInflight:   cfg.maxInflight,
	})
	pool.Start()

	monitor := upstream.NewMonitor(client, 5*time.Second)
	monitor.Start()

	srv := &server{
		instanceID: cfg.instanceID,
		queue:      queue,
		tracker:    tracker,
		federator:  summary.New(defaultStore, fallbackStore, tracker, upstream.NewPeerClient(cfg.peerURL)),
		monitor:    monitor,
	}

	httpSrv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("gateway %s listening on %s", cfg.instanceID, cfg.listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	monitor.Stop()
	pool.Stop()
	log.Println("gateway stopped")
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, terminating the
// process when it is unset.
func mustGetenv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		logFatal("missing required environment variable %s", k)
	}
	return v
}

// getenvInt retrieves an integer environment variable with a default.
func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logFatal("invalid %s: %v", k, err)
		return def
	}
	return n
}
