package app

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stayhub/internal/adapters/observability"
	"stayhub/internal/domain"
)

const (
	referenceAttempts = 3
	casAttempts       = 5
)

// PaymentService owns the PaymentIntent state machine. A nil store is legal and
// makes every call fail with domain.ErrStoreUnavailable.
type PaymentService struct {
	store  domain.PaymentStore
	now    func() time.Time
	newRef func() string

	// onPaid runs once per real transition into PAID (not on replays).
	onPaid func(ctx context.Context, pi domain.PaymentIntent)
}

func NewPaymentService(s domain.PaymentStore) *PaymentService {
	return &PaymentService{store: s, now: func() time.Time { return time.Now().UTC() }, newRef: newReference}
}

// WithClock and WithReferences are test seams.
func (s *PaymentService) WithClock(now func() time.Time) *PaymentService { s.now = now; return s }

func (s *PaymentService) WithReferences(gen func() string) *PaymentService { s.newRef = gen; return s }

func (s *PaymentService) OnPaid(fn func(ctx context.Context, pi domain.PaymentIntent)) { s.onPaid = fn }

func (s *PaymentService) Available() bool { return s.store != nil }

func newReference() string {
	b := make([]byte, 12)
	if _, err := crand.Read(b); err != nil {
		// crypto/rand failing is not recoverable in a meaningful way; uuid has its own source.
		return "PSK-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	}
	return "PSK-" + hex.EncodeToString(b)
}

func (s *PaymentService) Create(ctx context.Context, in domain.NewIntent) (domain.PaymentIntent, error) {
	if s.store == nil {
		return domain.PaymentIntent{}, domain.ErrStoreUnavailable
	}
	if err := validateNewIntent(&in); err != nil {
		return domain.PaymentIntent{}, err
	}
	now := s.now()
	for i := 0; i < referenceAttempts; i++ {
		pi := domain.PaymentIntent{
			Reference:  s.newRef(),
			Provider:   in.Provider,
			AmountNGN:  in.AmountNGN,
			Currency:   in.Currency,
			Email:      in.Email,
			PropertyID: in.PropertyID,
			Status:     domain.StatusInitiated,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := s.store.InsertIntent(ctx, pi)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, domain.ErrDuplicateReference) {
			return domain.PaymentIntent{}, fmt.Errorf("insert intent: %w", err)
		}
		log.Warn().Str("reference", pi.Reference).Msg("payment reference collision; regenerating")
	}
	return domain.PaymentIntent{}, fmt.Errorf("create intent after %d attempts: %w", referenceAttempts, domain.ErrDuplicateReference)
}

func validateNewIntent(in *domain.NewIntent) error {
	if in.Provider == "" {
		in.Provider = domain.ProviderPaystack
	}
	if in.Currency == "" {
		in.Currency = "NGN"
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.AmountNGN <= 0 {
		return &domain.ValidationError{Field: "amountNGN", Message: "must be positive"}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return &domain.ValidationError{Field: "email", Message: "must be a valid address"}
	}
	if in.PropertyID == "" {
		return &domain.ValidationError{Field: "propertyId", Message: "is required"}
	}
	return nil
}

func (s *PaymentService) Get(ctx context.Context, ref string) (domain.PaymentIntent, error) {
	if s.store == nil {
		return domain.PaymentIntent{}, domain.ErrStoreUnavailable
	}
	if strings.TrimSpace(ref) == "" {
		return domain.PaymentIntent{}, &domain.ValidationError{Field: "reference", Message: "is required"}
	}
	return s.store.GetIntent(ctx, ref)
}

func (s *PaymentService) Events(ctx context.Context, ref string) ([]domain.PaymentEvent, error) {
	if s.store == nil {
		return nil, domain.ErrStoreUnavailable
	}
	if _, err := s.store.GetIntent(ctx, ref); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, ref)
}

// decide maps (current, incoming) to the status to store and the audit outcome.
// PAID is never downgraded; FAILED -> PAID is accepted because a provider
// success is authoritative, but it is still recorded as a conflict.
func decide(current, incoming domain.PaymentStatus) (domain.PaymentStatus, domain.Outcome) {
	switch {
	case current == domain.StatusInitiated:
		return incoming, domain.OutcomeTransitioned
	case current == incoming:
		return current, domain.OutcomeNoop
	case current == domain.StatusPaid:
		return domain.StatusPaid, domain.OutcomeConflict
	default: // FAILED -> PAID
		return domain.StatusPaid, domain.OutcomeConflict
	}
}

// ApplyStatus moves the intent along INITIATED -> PAID|FAILED. Concurrent
// callers are serialised by the store's compare-and-set, retried here.
func (s *PaymentService) ApplyStatus(ctx context.Context, ref string, incoming domain.PaymentStatus, raw []byte, source string) (domain.ApplyResult, error) {
	if s.store == nil {
		return domain.ApplyResult{}, domain.ErrStoreUnavailable
	}
	if incoming != domain.StatusPaid && incoming != domain.StatusFailed {
		return domain.ApplyResult{}, &domain.ValidationError{Field: "status", Message: "must be PAID or FAILED"}
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := s.store.GetIntent(ctx, ref)
		if err != nil {
			return domain.ApplyResult{}, err
		}
		next, outcome := decide(cur.Status, incoming)

		var paidAt *time.Time
		now := s.now()
		if next == domain.StatusPaid && cur.Status != domain.StatusPaid {
			paidAt = &now
		}
		ok, err := s.store.CompareAndSetStatus(ctx, ref, cur.Status, next, paidAt, raw)
		if err != nil {
			return domain.ApplyResult{}, fmt.Errorf("update intent %s: %w", ref, err)
		}
		if !ok {
			continue // someone else moved the row; re-read and decide again
		}

		ev := domain.PaymentEvent{
			ID:         uuid.NewString(),
			Reference:  ref,
			Source:     source,
			FromStatus: cur.Status,
			ToStatus:   incoming,
			Outcome:    outcome,
			Raw:        raw,
			CreatedAt:  now,
		}
		if err := s.store.AppendEvent(ctx, ev); err != nil {
			log.Error().Err(err).Str("reference", ref).Msg("append payment event failed")
		}

		updated := cur
		updated.Status = next
		updated.Raw = raw
		updated.UpdatedAt = now
		if paidAt != nil {
			updated.PaidAt = paidAt
		}
		observability.ObservePaymentUpdate(source, string(incoming), string(outcome))

		switch outcome {
		case domain.OutcomeConflict:
			log.Warn().
				Err(domain.ErrConflictingStatus).
				Str("reference", ref).
				Str("source", source).
				Str("stored", string(cur.Status)).
				Str("incoming", string(incoming)).
				Str("result", string(next)).
				Msg("payment status conflict")
		case domain.OutcomeTransitioned:
			log.Info().Str("reference", ref).Str("source", source).Str("status", string(next)).Msg("payment status updated")
		}
		if next == domain.StatusPaid && cur.Status != domain.StatusPaid && s.onPaid != nil {
			s.onPaid(ctx, updated)
		}
		return domain.ApplyResult{Intent: updated, Outcome: outcome}, nil
	}
	return domain.ApplyResult{}, fmt.Errorf("apply status %s to %s: %w", incoming, ref, domain.ErrConcurrentUpdate)
}

// Stale lists INITIATED intents created before cutoff, oldest first.
func (s *PaymentService) Stale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentIntent, error) {
	if s.store == nil {
		return nil, domain.ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListStale(ctx, cutoff, limit)
}

// BookingConfirmations mails the guest a receipt once an intent is PAID.
// Each send runs on its own goroutine under a deadline detached from the
// caller's cancellation.
type BookingConfirmations struct {
	mailer  domain.Mailer
	timeout time.Duration
	wg      sync.WaitGroup
}

func ConfirmBooking(m domain.Mailer, timeout time.Duration) *BookingConfirmations {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BookingConfirmations{mailer: m, timeout: timeout}
}

// Hook is registered with PaymentService.OnPaid.
func (b *BookingConfirmations) Hook(ctx context.Context, pi domain.PaymentIntent) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		body := fmt.Sprintf("Your payment of NGN %d for %s is confirmed.\nReference: %s\n", pi.AmountNGN, pi.PropertyID, pi.Reference)
		if err := b.mailer.Send(mctx, pi.Email, "Booking confirmed", body); err != nil {
			log.Warn().Err(err).Str("reference", pi.Reference).Msg("booking confirmation mail failed")
		}
	}()
}

// Wait blocks until every in-flight confirmation has finished or timed out.
func (b *BookingConfirmations) Wait() {
	b.wg.Wait()
}
