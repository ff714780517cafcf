// Package store provides the in-memory time-indexed aggregate that backs the
// gateway's summary queries.
//
// # Overview
//
// Each upstream processor (default and fallback) owns one Aggregate. An
// Aggregate maps a microsecond timestamp to the pair (request count, total
// amount in cents) of all payments that were accepted by that upstream at
// that exact microsecond. Amounts are kept as integer cents so aggregation
// is exact and associative; division back to decimal dollars happens only at
// the JSON boundary.
//
// # Operations
//
// Record: insert-or-update at one timestamp key
//   - increments the request count by 1
//   - adds the payment's cents to the running total
//
// RangeSum: fold over a timestamp window
//   - bounds are inclusive on both ends
//   - a nil bound means unbounded on that side
//   - returns the field-wise sum (count, cents) over the window
//
// # Concurrency and Thread Safety
//
// A single mutex serializes all access. Point operations are O(log n) on the
// underlying B-tree and range scans are O(log n + k); neither holds the lock
// across any I/O, so a plain mutex is sufficient at this scale.
//
// # Durability
//
// None. Aggregates live in process memory and are lost on restart; that is a
// deliberate property of the system, not an oversight.
package store
