// Package payment holds the wire types shared by the gateway's HTTP surface,
// the dispatch pipeline, and the upstream clients, plus the money conversion
// between JSON decimal dollars and the integer cents stored internally.
package payment

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// CreateRequest is the client-facing body of POST /payments.
// The correlation id is an opaque client-chosen idempotency key; it is
// required but not otherwise interpreted.
type CreateRequest struct {
	CorrelationID string  `json:"correlationId" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
}

// Validate checks the request against its struct tags.
func (r *CreateRequest) Validate() error {
	return validate.Struct(r)
}

// Payment is a pending payment as it travels through the pipeline and on to
// an upstream processor. RequestedAt is stamped at ingest, never taken from
// the client, and defines the payment's logical time.
type Payment struct {
	CorrelationID string    `json:"correlationId"`
	Amount        float64   `json:"amount"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// TimestampMicros returns the aggregate-store key for this payment.
func (p Payment) TimestampMicros() int64 {
	return p.RequestedAt.UnixMicro()
}

// AmountCents converts the decimal-dollar amount to integer cents, rounding
// half away from zero. Inputs are expected to carry at most two fractional
// digits, but rounding keeps sloppier clients exact too.
func (p Payment) AmountCents() uint64 {
	cents := decimal.NewFromFloat(p.Amount).Mul(decimal.NewFromInt(100)).Round(0)
	return uint64(cents.IntPart())
}

// Summary is one processor's slice of a summary response.
type Summary struct {
	TotalRequests uint64  `json:"totalRequests"`
	TotalAmount   float64 `json:"totalAmount"`
}

// ProcessorSummaries is the body of GET /payments-summary: one Summary per
// upstream, keyed by processor name.
type ProcessorSummaries struct {
	Default  Summary `json:"default"`
	Fallback Summary `json:"fallback"`
}

// Add folds another node's summaries into this one, field-wise.
func (s *ProcessorSummaries) Add(other ProcessorSummaries) {
	s.Default.TotalRequests += other.Default.TotalRequests
	s.Default.TotalAmount += other.Default.TotalAmount
	s.Fallback.TotalRequests += other.Fallback.TotalRequests
	s.Fallback.TotalAmount += other.Fallback.TotalAmount
}

// Processor identifies one of the two upstream payment processors.
type Processor int

const (
	ProcessorDefault Processor = iota
	ProcessorFallback
)

// ForRetry selects the upstream for a given retry count: even counts go to
// the default processor, odd counts cross over to the fallback.
func ForRetry(retries int) Processor {
	if retries%2 == 0 {
		return ProcessorDefault
	}
	return ProcessorFallback
}

func (p Processor) String() string {
	if p == ProcessorFallback {
		return "fallback"
	}
	return "default"
}
