package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"stayhub/internal/adapters/observability"
	"stayhub/internal/domain"
)

// Gateway reconciles local intents with the provider, by pull (Verify) or
// push (HandleWebhook). Both end in PaymentService.ApplyStatus.
type Gateway struct {
	provider domain.PaymentProvider
	payments *PaymentService
	secret   []byte
}

func NewGateway(p domain.PaymentProvider, payments *PaymentService, webhookSecret string) *Gateway {
	return &Gateway{provider: p, payments: payments, secret: []byte(webhookSecret)}
}

// ReconcileResult carries the provider's answer plus what happened locally.
// Stored is false when the local update could not be applied; StoreErr says why.
type ReconcileResult struct {
	Reference   string                     `json:"reference"`
	Status      domain.PaymentStatus       `json:"status"`
	Transaction domain.ProviderTransaction `json:"-"`
	Stored      bool                       `json:"stored"`
	Outcome     domain.Outcome             `json:"outcome,omitempty"`
	StoreErr    error                      `json:"-"`
}

// StatusFromProvider: only "success" means paid, anything else is a failure.
func StatusFromProvider(s string) domain.PaymentStatus {
	if strings.EqualFold(strings.TrimSpace(s), "success") {
		return domain.StatusPaid
	}
	return domain.StatusFailed
}

// Verify asks the provider for the authoritative status of ref and applies it.
// Provider failures surface as errors; local storage failures do not.
func (g *Gateway) Verify(ctx context.Context, ref, source string) (res ReconcileResult, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ReconcileResult{}, &domain.ValidationError{Field: "reference", Message: "is required"}
	}
	ctx, span := observability.StartSpan(ctx, "payments.verify", attribute.String("payment.reference", ref))
	defer func() { observability.EndSpan(span, err) }()

	tx, err := g.provider.Verify(ctx, ref)
	if err != nil {
		return ReconcileResult{}, err
	}
	res = ReconcileResult{Reference: ref, Status: StatusFromProvider(tx.Status), Transaction: tx}
	g.apply(ctx, &res, tx.Raw, tx.AmountKobo, source)
	return res, nil
}

// SettleStale reconciles an intent that never heard back. A reference the
// provider has no record of was never paid, so it is failed locally.
func (g *Gateway) SettleStale(ctx context.Context, ref string) (ReconcileResult, error) {
	res, err := g.Verify(ctx, ref, domain.SourceReconciler)
	if errors.Is(err, domain.ErrNotFound) {
		raw := []byte(`{"reason":"unknown to provider"}`)
		out, aerr := g.payments.ApplyStatus(ctx, ref, domain.StatusFailed, raw, domain.SourceReconciler)
		if aerr != nil {
			return ReconcileResult{}, aerr
		}
		return ReconcileResult{Reference: ref, Status: domain.StatusFailed, Stored: true, Outcome: out.Outcome}, nil
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	if !res.Stored {
		return res, res.StoreErr
	}
	return res, nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// HandleWebhook authenticates body against signature before looking at its
// contents; a forged or tampered body never reaches the JSON decoder.
func (g *Gateway) HandleWebhook(ctx context.Context, body []byte, signature string) (res ReconcileResult, err error) {
	if !VerifySignature(g.secret, body, signature) {
		observability.ObserveWebhook("bad_signature")
		return ReconcileResult{}, domain.ErrInvalidSignature
	}
	ctx, span := observability.StartSpan(ctx, "payments.webhook")
	defer func() { observability.EndSpan(span, err) }()

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		observability.ObserveWebhook("bad_payload")
		return ReconcileResult{}, &domain.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	ref := strings.TrimSpace(p.Data.Reference)
	if ref == "" {
		observability.ObserveWebhook("bad_payload")
		return ReconcileResult{}, &domain.ValidationError{Field: "data.reference", Message: "is required"}
	}
	span.SetAttributes(attribute.String("payment.reference", ref), attribute.String("webhook.event", p.Event))

	status := p.Data.Status
	if status == "" && p.Event == "charge.success" {
		status = "success"
	}
	res = ReconcileResult{
		Reference: ref,
		Status:    StatusFromProvider(status),
		Transaction: domain.ProviderTransaction{
			Reference: ref, Status: status, AmountKobo: p.Data.Amount, Raw: body,
		},
	}
	g.apply(ctx, &res, body, p.Data.Amount, domain.SourceWebhook)
	if res.Stored {
		observability.ObserveWebhook("accepted")
	} else {
		observability.ObserveWebhook("store_error")
	}
	return res, nil
}

func (g *Gateway) apply(ctx context.Context, res *ReconcileResult, raw []byte, amountKobo int64, source string) {
	out, err := g.payments.ApplyStatus(ctx, res.Reference, res.Status, raw, source)
	if err != nil {
		res.StoreErr = err
		ev := log.Error()
		if errors.Is(err, domain.ErrNotFound) {
			ev = log.Warn()
		}
		ev.Err(err).Str("reference", res.Reference).Str("source", source).Msg("reconciliation not stored")
		return
	}
	res.Stored = true
	res.Outcome = out.Outcome
	if amountKobo > 0 && amountKobo != out.Intent.AmountNGN*100 {
		log.Warn().
			Str("reference", res.Reference).
			Int64("expected_kobo", out.Intent.AmountNGN*100).
			Int64("provider_kobo", amountKobo).
			Msg("provider amount differs from intent")
	}
}

// Sign returns the hex HMAC-SHA512 the provider sends for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature fails closed on an empty secret or signature.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected))
}

type CheckoutRequest struct {
	PropertyID string `json:"propertyId"`
	Email      string `json:"email"`
	Negotiated bool   `json:"negotiated"`
}

type CheckoutResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorizationUrl"`
	AmountNGN        int64  `json:"amountNGN"`
	Discounted       bool   `json:"discounted"`
}

// CheckoutService is the booking flow: price the stay, open an intent and
// hand the guest to the provider.
type CheckoutService struct {
	properties  domain.PropertyCatalog
	engine      *NegotiationEngine
	payments    *PaymentService
	provider    domain.PaymentProvider
	callbackURL string
}

func NewCheckoutService(p domain.PropertyCatalog, e *NegotiationEngine, pay *PaymentService, prov domain.PaymentProvider, callbackURL string) *CheckoutService {
	return &CheckoutService{properties: p, engine: e, payments: pay, provider: prov, callbackURL: callbackURL}
}

func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	id := strings.TrimSpace(req.PropertyID)
	if !propertyIDPattern.MatchString(id) {
		return CheckoutResult{}, &domain.ValidationError{Field: "propertyId", Message: "is malformed"}
	}
	p, err := s.properties.GetProperty(ctx, id)
	if err != nil {
		return CheckoutResult{}, err
	}
	amount, discounted := p.BasePriceNGN, false
	if req.Negotiated {
		q, err := s.engine.Negotiate(ctx, id)
		var d *Decline
		switch {
		case err == nil:
			amount, discounted = q.DiscountedTotal, true
		case errors.As(err, &d):
			// no offer: guest pays the base price
		default:
			return CheckoutResult{}, err
		}
	}
	if amount <= 0 {
		return CheckoutResult{}, &domain.ValidationError{Field: "amountNGN", Message: "nothing to charge"}
	}

	pi, err := s.payments.Create(ctx, domain.NewIntent{
		Provider:   domain.ProviderPaystack,
		AmountNGN:  amount,
		Currency:   "NGN",
		Email:      req.Email,
		PropertyID: id,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	ir, err := s.provider.Initialize(ctx, domain.InitRequest{
		Reference:   pi.Reference,
		Email:       pi.Email,
		AmountNGN:   pi.AmountNGN,
		Currency:    pi.Currency,
		CallbackURL: s.callbackURL,
		Metadata:    map[string]string{"propertyId": id},
	})
	if err != nil {
		// the intent stays INITIATED; the reconciler settles it later
		return CheckoutResult{}, fmt.Errorf("initialize %s: %w", pi.Reference, err)
	}
	return CheckoutResult{
		Reference:        pi.Reference,
		AuthorizationURL: ir.AuthorizationURL,
		AmountNGN:        pi.AmountNGN,
		Discounted:       discounted,
	}, nil
}

type SweepReport struct {
	Checked int
	Settled int
	Failed  int
}

// SweepStale settles INITIATED intents older than cutoff with at most workers
// provider calls in flight.
func (g *Gateway) SweepStale(ctx context.Context, cutoff time.Time, limit, workers int) (SweepReport, error) {
	stale, err := g.payments.Stale(ctx, cutoff, limit)
	if err != nil {
		return SweepReport{}, err
	}
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		rep = SweepReport{Checked: len(stale)}
	)
	for _, pi := range stale {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := g.SettleStale(ctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				log.Warn().Str("reference", ref).Err(err).Msg("settle failed")
				return
			}
			rep.Settled++
			log.Info().Str("reference", ref).Str("status", string(res.Status)).Str("outcome", string(res.Outcome)).Msg("settled")
		}(pi.Reference)
	}
	wg.Wait()
	return rep, ctx.Err()
}
