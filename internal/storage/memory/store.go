// Package memory is a process-local implementation of the storage ports, for
// development without a database and for tests. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stayhub/internal/domain"
)

type Store struct {
	mu         sync.RWMutex
	properties map[string]domain.Property
	discounts  domain.DiscountConfig
	intents    map[string]domain.PaymentIntent
	events     map[string][]domain.PaymentEvent
	users      map[string]domain.User
	now        func() time.Time
}

func New() *Store {
	return &Store{
		properties: map[string]domain.Property{},
		discounts:  domain.DiscountConfig{Overrides: map[string]float64{}},
		intents:    map[string]domain.PaymentIntent{},
		events:     map[string][]domain.PaymentEvent{},
		users:      map[string]domain.User{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) UpsertProperty(_ context.Context, p domain.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.ID] = p
	return nil
}

func (s *Store) GetProperty(_ context.Context, id string) (domain.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[id]
	if !ok {
		return domain.Property{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *Store) CurrentDiscounts(context.Context) (domain.DiscountConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discounts.Clone(), nil
}

func (s *Store) UpdateDiscounts(_ context.Context, cfg domain.DiscountConfig, expectedVersion int64) (domain.DiscountConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discounts.Version != expectedVersion {
		return domain.DiscountConfig{}, domain.ErrVersionConflict
	}
	next := cfg.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	s.discounts = next
	return next.Clone(), nil
}

func (s *Store) InsertIntent(_ context.Context, pi domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[pi.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	s.intents[pi.Reference] = pi
	return nil
}

func (s *Store) GetIntent(_ context.Context, ref string) (domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pi, ok := s.intents[ref]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	return pi, nil
}

func (s *Store) CompareAndSetStatus(_ context.Context, ref string, from, to domain.PaymentStatus, paidAt *time.Time, raw []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.intents[ref]
	if !ok {
		return false, domain.ErrNotFound
	}
	if pi.Status != from {
		return false, nil
	}
	pi.Status = to
	if paidAt != nil {
		t := *paidAt
		pi.PaidAt = &t
	}
	pi.Raw = append([]byte(nil), raw...)
	pi.UpdatedAt = s.now()
	s.intents[ref] = pi
	return true, nil
}

func (s *Store) AppendEvent(_ context.Context, ev domain.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.Reference] = append(s.events[ev.Reference], ev)
	return nil
}

func (s *Store) ListEvents(_ context.Context, ref string) ([]domain.PaymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PaymentEvent(nil), s.events[ref]...), nil
}

func (s *Store) ListStale(_ context.Context, createdBefore time.Time, limit int) ([]domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PaymentIntent
	for _, pi := range s.intents {
		if pi.Status == domain.StatusInitiated && pi.CreatedAt.Before(createdBefore) {
			out = append(out, pi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetUser(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *Store) ActivateUser(_ context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		u = domain.User{Email: email, CreatedAt: at}
	}
	if u.ActivatedAt == nil {
		u.ActivatedAt = &at
	}
	s.users[email] = u
	return nil
}

func (s *Store) SetPasswordHash(_ context.Context, email string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = append([]byte(nil), hash...)
	s.users[email] = u
	return nil
}
