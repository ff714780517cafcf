package store

import (
	"sync"

	"github.com/google/btree"
)

// entry is one aggregate bucket: all successful payments stamped at the same
// microsecond collapse into a single (count, cents) pair.
type entry struct {
	ts    int64
	count uint64
	cents uint64
}

func entryLess(a, b entry) bool { return a.ts < b.ts }

// Aggregate is a mutex-guarded ordered map from microsecond timestamps to
// (request count, total cents). All methods are safe for concurrent use.
type Aggregate struct {
	mu   sync.Mutex
	tree *btree.BTreeG[entry]
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{tree: btree.NewG(32, entryLess)}
}

// Record adds one successful payment at timestamp ts, incrementing the
// bucket's request count and adding amountCents to its total. The whole
// update is a single locked mutation; it is atomic with respect to RangeSum.
func (a *Aggregate) Record(ts int64, amountCents uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.tree.Get(entry{ts: ts})
	if !ok {
		e = entry{ts: ts}
	}
	e.count++
	e.cents += amountCents
	a.tree.ReplaceOrInsert(e)
}

// RangeSum returns the field-wise sum of (count, cents) over every bucket
// whose timestamp lies in [from, to]. Both bounds are inclusive; a nil bound
// is unbounded on that side.
func (a *Aggregate) RangeSum(from, to *int64) (count, cents uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	scan := func(e entry) bool {
		if to != nil && e.ts > *to {
			return false
		}
		count += e.count
		cents += e.cents
		return true
	}
	if from != nil {
		a.tree.AscendGreaterOrEqual(entry{ts: *from}, scan)
	} else {
		a.tree.Ascend(scan)
	}
	return count, cents
}

// Size returns the number of distinct timestamp buckets.
func (a *Aggregate) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tree.Len()
}
