package domain

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	StatusInitiated PaymentStatus = "INITIATED"
	StatusPaid      PaymentStatus = "PAID"
	StatusFailed    PaymentStatus = "FAILED"
)

func (s PaymentStatus) Terminal() bool { return s == StatusPaid || s == StatusFailed }

func (s PaymentStatus) Valid() bool {
	return s == StatusInitiated || s == StatusPaid || s == StatusFailed
}

const ProviderPaystack = "paystack"

type PaymentIntent struct {
	Reference  string          `json:"reference"`
	Provider   string          `json:"provider"`
	AmountNGN  int64           `json:"amountNGN"`
	Currency   string          `json:"currency"`
	Email      string          `json:"email"`
	PropertyID string          `json:"propertyId"`
	Status     PaymentStatus   `json:"status"`
	PaidAt     *time.Time      `json:"paidAt,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"` // last provider payload
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type NewIntent struct {
	Provider   string
	AmountNGN  int64
	Currency   string
	Email      string
	PropertyID string
}

// Event sources for the audit trail.
const (
	SourceVerify     = "verify"
	SourceWebhook    = "webhook"
	SourceReconciler = "reconciler"
)

type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeNoop         Outcome = "noop"
	OutcomeConflict     Outcome = "conflict"
)

// PaymentEvent is one append-only audit row per ApplyStatus call.
type PaymentEvent struct {
	ID         string          `json:"id"`
	Reference  string          `json:"reference"`
	Source     string          `json:"source"`
	FromStatus PaymentStatus   `json:"fromStatus"`
	ToStatus   PaymentStatus   `json:"toStatus"`
	Outcome    Outcome         `json:"outcome"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ApplyResult reports what ApplyStatus did to the intent.
type ApplyResult struct {
	Intent  PaymentIntent
	Outcome Outcome
}

func (r ApplyResult) Conflict() bool { return r.Outcome == OutcomeConflict }
