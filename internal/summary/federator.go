// Package summary computes time-windowed payment summaries, combining this
// gateway's local aggregates with the peer gateway's local-only view.
package summary

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/payrelay/internal/inflight"
	"github.com/dreamware/payrelay/internal/payment"
	"github.com/dreamware/payrelay/internal/store"
	"github.com/dreamware/payrelay/internal/upstream"
)

// Params is a parsed summary query.
type Params struct {
	From      *time.Time
	To        *time.Time
	OnlyLocal bool
}

// Federator answers summary queries. For bounded windows it first waits out
// any in-flight payment stamped inside the window, so the scan cannot miss a
// payment that ingest has already accepted.
type Federator struct {
	defaultStore  *store.Aggregate
	fallbackStore *store.Aggregate
	tracker       *inflight.Tracker
	peer          *upstream.PeerClient
}

// New wires a federator to the two aggregate stores, the in-flight tracker,
// and the peer client.
func New(defaultStore, fallbackStore *store.Aggregate, tracker *inflight.Tracker, peer *upstream.PeerClient) *Federator {
	return &Federator{
		defaultStore:  defaultStore,
		fallbackStore: fallbackStore,
		tracker:       tracker,
		peer:          peer,
	}
}

// Summarize computes the summary for the window [From, To]. Unless OnlyLocal
// is set, the peer's local-only summary is fetched concurrently with the
// local scans and folded in field-wise; a peer failure fails the whole query.
// Summary reads have no side effects, so cancelling ctx is always safe.
func (f *Federator) Summarize(ctx context.Context, params Params) (payment.ProcessorSummaries, error) {
	var out payment.ProcessorSummaries

	fromUS := micros(params.From)
	toUS := micros(params.To)

	// Open-ended windows skip the wait entirely: blocking on an unbounded
	// upper end would hang on whatever payment arrives next.
	if toUS != nil {
		if err := f.tracker.WaitUntilUnlocked(ctx, fromUS, toUS); err != nil {
			return out, err
		}
	}

	var dCount, dCents, fCount, fCents uint64
	var peerSum payment.ProcessorSummaries

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dCount, dCents = f.defaultStore.RangeSum(fromUS, toUS)
		return nil
	})
	g.Go(func() error {
		fCount, fCents = f.fallbackStore.RangeSum(fromUS, toUS)
		return nil
	})
	if !params.OnlyLocal {
		g.Go(func() error {
			var err error
			peerSum, err = f.peer.LocalSummary(gctx, params.From, params.To)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return payment.ProcessorSummaries{}, fmt.Errorf("federate summary: %w", err)
	}

	// Cents become decimal dollars only here, at the presentation boundary.
	out.Default = payment.Summary{TotalRequests: dCount, TotalAmount: float64(dCents) / 100}
	out.Fallback = payment.Summary{TotalRequests: fCount, TotalAmount: float64(fCents) / 100}
	out.Add(peerSum)
	return out, nil
}

func micros(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMicro()
	return &v
}
