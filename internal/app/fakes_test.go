package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"stayhub/internal/domain"
	"stayhub/internal/storage/memory"
)

// ---- fakes ----

type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

// countingCatalog counts lookups that reach the backing catalog.
type countingCatalog struct {
	inner domain.PropertyCatalog
	calls int
}

func (c *countingCatalog) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	c.calls++
	return c.inner.GetProperty(ctx, id)
}

type brokenDiscounts struct{}

func (brokenDiscounts) CurrentDiscounts(context.Context) (domain.DiscountConfig, error) {
	return domain.DiscountConfig{}, domain.ErrStoreUnavailable
}

func (brokenDiscounts) UpdateDiscounts(context.Context, domain.DiscountConfig, int64) (domain.DiscountConfig, error) {
	return domain.DiscountConfig{}, domain.ErrStoreUnavailable
}

type fakeProvider struct {
	mu      sync.Mutex
	txs     map[string]domain.ProviderTransaction
	err     error
	inits   []domain.InitRequest
	initErr error
}

func (p *fakeProvider) Initialize(ctx context.Context, req domain.InitRequest) (domain.InitResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initErr != nil {
		return domain.InitResponse{}, p.initErr
	}
	p.inits = append(p.inits, req)
	return domain.InitResponse{
		AuthorizationURL: "https://checkout.paystack.test/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (p *fakeProvider) Verify(ctx context.Context, ref string) (domain.ProviderTransaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.ProviderTransaction{}, p.err
	}
	tx, ok := p.txs[ref]
	if !ok {
		return domain.ProviderTransaction{}, domain.ErrNotFound
	}
	return tx, nil
}

type sentMail struct{ To, Subject, Body string }

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

// stalledMailer hands its context to the test and blocks until released or
// the context ends.
type stalledMailer struct {
	release chan struct{}
	seen    chan context.Context
}

func (m *stalledMailer) Send(ctx context.Context, _, _, _ string) error {
	m.seen <- ctx
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stuckStore never wins a compare-and-set.
type stuckStore struct{ *memory.Store }

func (stuckStore) CompareAndSetStatus(context.Context, string, domain.PaymentStatus, domain.PaymentStatus, *time.Time, []byte) (bool, error) {
	return false, nil
}

// ---- helpers ----

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func seededStore() *memory.Store {
	s := memory.New()
	_ = s.UpsertProperty(context.Background(), domain.Property{ID: "acme-hotel-lagos", Name: "Acme Hotel", City: "Lagos", BasePriceNGN: 100000})
	_ = s.UpsertProperty(context.Background(), domain.Property{ID: "eko-suites", Name: "Eko Suites", City: "Lagos", BasePriceNGN: 45000})
	_, _ = s.UpdateDiscounts(context.Background(), domain.DiscountConfig{
		Default:   0,
		Overrides: map[string]float64{"acme-hotel-lagos": 0.2},
	}, 0)
	return s
}

func insertIntent(s *memory.Store, ref string, amountNGN int64) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = s.InsertIntent(context.Background(), domain.PaymentIntent{
		Reference: ref, Provider: domain.ProviderPaystack, AmountNGN: amountNGN, Currency: "NGN",
		Email: "guest@example.com", PropertyID: "acme-hotel-lagos", Status: domain.StatusInitiated,
		CreatedAt: now, UpdatedAt: now,
	})
}
