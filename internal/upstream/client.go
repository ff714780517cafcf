// Package upstream provides the HTTP clients for the two payment processors
// and for the peer gateway, plus a periodic health monitor over the
// processors. A single shared http.Client underlies all calls so connections
// are pooled across the worker pool; Go's dialer enables TCP_NODELAY by
// default.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dreamware/payrelay/internal/payment"
)

// Outcome classifies a processor's answer to a payment submission.
type Outcome int

const (
	// OutcomeAccepted means the processor returned 2xx; the payment is settled.
	OutcomeAccepted Outcome = iota
	// OutcomeRetryable means a 5xx, 429, or network failure; the payment may
	// be re-dispatched, relying on the correlation id for upstream idempotency.
	OutcomeRetryable
	// OutcomeRejected means a non-429 4xx; the payment is permanently refused.
	OutcomeRejected
)

// Client talks to the default and fallback payment processors.
type Client struct {
	http        *http.Client
	defaultURL  string
	fallbackURL string
}

// NewClient builds a processor client over a pooled transport. Trailing
// slashes on the base URLs are stripped.
func NewClient(defaultURL, fallbackURL string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 128,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		defaultURL:  strings.TrimSuffix(defaultURL, "/"),
		fallbackURL: strings.TrimSuffix(fallbackURL, "/"),
	}
}

// BaseURL returns the configured base URL for a processor.
func (c *Client) BaseURL(p payment.Processor) string {
	if p == payment.ProcessorFallback {
		return c.fallbackURL
	}
	return c.defaultURL
}

// SubmitPayment POSTs the payment body {correlationId, amount, requestedAt}
// to the chosen processor and classifies the response. Network errors are
// treated like 5xx: retryable.
func (c *Client) SubmitPayment(ctx context.Context, p payment.Processor, pay payment.Payment) (Outcome, error) {
	body, err := json.Marshal(pay)
	if err != nil {
		return OutcomeRejected, fmt.Errorf("marshal payment: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL(p)+"/payments", bytes.NewReader(body))
	if err != nil {
		return OutcomeRejected, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return OutcomeRetryable, fmt.Errorf("post %s: %w", p, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeAccepted, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return OutcomeRetryable, fmt.Errorf("post %s: http %d", p, resp.StatusCode)
	default:
		return OutcomeRejected, fmt.Errorf("post %s: http %d", p, resp.StatusCode)
	}
}

// CheckHealth probes a processor's service-health endpoint.
func (c *Client) CheckHealth(ctx context.Context, p payment.Processor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL(p)+"/payments/service-health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("health %s: http %d", p, resp.StatusCode)
	}
	return nil
}

// PeerClient fetches the sibling gateway's local-only summary.
type PeerClient struct {
	http *http.Client
	base string
}

// NewPeerClient builds a client for the peer gateway at base, stripping any
// trailing slash.
func NewPeerClient(base string) *PeerClient {
	return &PeerClient{
		http: &http.Client{Timeout: 30 * time.Second},
		base: strings.TrimSuffix(base, "/"),
	}
}

// LocalSummary GETs {peer}/payments-summary?only_local=true for the given
// window. The only_local flag is what keeps the two-node fan-out to one hop:
// the peer answers from its own stores without calling back.
func (pc *PeerClient) LocalSummary(ctx context.Context, from, to *time.Time) (payment.ProcessorSummaries, error) {
	var out payment.ProcessorSummaries

	q := url.Values{}
	q.Set("only_local", "true")
	if from != nil {
		q.Set("from", from.UTC().Format(time.RFC3339Nano))
	}
	if to != nil {
		q.Set("to", to.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.base+"/payments-summary?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	resp, err := pc.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("peer summary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("peer summary: http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("peer summary: decode: %w", err)
	}
	return out, nil
}
