// Package inflight tracks the timestamps of payments that have been accepted
// by ingest but not yet settled against an upstream processor.
//
// Summary queries with a bounded upper end must not observe a window where a
// payment stamped inside it has been accepted but not yet recorded in the
// aggregate store. The tracker closes that window: dispatchers register the
// payment's timestamp before calling the upstream and release the guard when
// processing ends, and summary readers wait until no registered timestamp
// falls inside their window.
//
// Open-ended queries (no upper bound) never wait. Blocking them would make a
// tail read hang on whatever payment arrives next, so the tracker reports
// such windows as unlocked regardless of contents. Liveness over strictness.
package inflight
