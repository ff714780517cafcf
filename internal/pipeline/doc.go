// Package pipeline implements the asynchronous dispatch path between payment
// ingest and the upstream processors.
//
// # Overview
//
// Ingest handlers stamp each accepted payment and push it onto a bounded
// Queue; a fixed Pool of worker goroutines drains the queue, submits each
// payment to an upstream, and records successes into the aggregate store of
// whichever upstream accepted it. The queue is the sole rendezvous between
// the request path and the upstream I/O path.
//
// # Failover and retries
//
// The upstream for a job is chosen by retry-count parity: even counts go to
// the default processor, odd counts to the fallback. A 5xx, 429, or network
// failure re-enqueues the job at the back of the queue with the count bumped,
// so a persistently failing default crosses over to the fallback on the next
// attempt. Non-429 4xx responses are terminal: the payment is logged and
// dropped, never recorded. Retries stop after a cap to keep a permanently
// broken pair of upstreams from cycling jobs forever.
//
// Retries rely on the upstream treating the client-supplied correlation id
// as an idempotency key; a retry that races an upstream-side acknowledgement
// must not double-charge.
//
// # Concurrency
//
// Worker count bounds queue drain parallelism; a weighted semaphore
// additionally caps concurrent upstream calls. Workers run on a background
// context detached from any request lifetime, so a client disconnect never
// cancels an in-progress upstream POST. Each dispatch holds an in-flight
// guard from registration until the job leaves the pipeline (settled,
// re-enqueued, or dropped), which is what summary queries synchronize on.
package pipeline
