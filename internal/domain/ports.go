package domain

import (
	"context"
	"encoding/json"
	"time"
)

type PropertyCatalog interface {
	GetProperty(ctx context.Context, id string) (Property, error)
}

// DiscountStore is the versioned rate table. UpdateDiscounts succeeds only when
// expectedVersion matches the stored version, otherwise ErrVersionConflict.
type DiscountStore interface {
	CurrentDiscounts(ctx context.Context) (DiscountConfig, error)
	UpdateDiscounts(ctx context.Context, cfg DiscountConfig, expectedVersion int64) (DiscountConfig, error)
}

type PaymentStore interface {
	// Write paths
	InsertIntent(ctx context.Context, pi PaymentIntent) error // ErrDuplicateReference on collision
	// CompareAndSetStatus updates the row only while its status still equals from.
	// paidAt == nil keeps the stored paid_at. Returns false when the row moved on.
	CompareAndSetStatus(ctx context.Context, ref string, from, to PaymentStatus, paidAt *time.Time, raw []byte) (bool, error)
	AppendEvent(ctx context.Context, ev PaymentEvent) error

	// Read paths
	GetIntent(ctx context.Context, ref string) (PaymentIntent, error)
	ListEvents(ctx context.Context, ref string) ([]PaymentEvent, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]PaymentIntent, error)
}

type UserStore interface {
	GetUser(ctx context.Context, email string) (User, error)
	ActivateUser(ctx context.Context, email string, at time.Time) error
	SetPasswordHash(ctx context.Context, email string, hash []byte) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PaymentProvider is the upstream gateway (Paystack).
type PaymentProvider interface {
	Initialize(ctx context.Context, req InitRequest) (InitResponse, error)
	Verify(ctx context.Context, reference string) (ProviderTransaction, error)
}

type InitRequest struct {
	Reference   string
	Email       string
	AmountNGN   int64
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

type InitResponse struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// ProviderTransaction is the provider's view of a reference.
type ProviderTransaction struct {
	Reference  string
	Status     string // "success", "failed", "abandoned", ...
	AmountKobo int64
	Raw        json.RawMessage
}
