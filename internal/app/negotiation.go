package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"stayhub/internal/adapters/observability"
	"stayhub/internal/domain"
)

// Decline reasons, also used as the metric outcome label.
const (
	ReasonInvalidPropertyID = "invalid-property-id"
	ReasonPropertyNotFound  = "property-not-found"
	ReasonDiscountDisabled  = "discount-disabled"
)

var propertyIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// RateResolver reads the current rate table on every call; it holds no cache.
type RateResolver struct {
	store domain.DiscountStore
}

func NewRateResolver(s domain.DiscountStore) *RateResolver { return &RateResolver{store: s} }

// Resolve never fails: a store error disables the discount for this call.
func (r *RateResolver) Resolve(ctx context.Context, propertyID string) float64 {
	cfg, err := r.store.CurrentDiscounts(ctx)
	if err != nil {
		log.Warn().Err(err).Str("property", propertyID).Msg("discount config unavailable; negotiation disabled")
		return 0
	}
	return cfg.RateFor(propertyID)
}

type Quote struct {
	BaseTotal       int64                  `json:"baseTotal"`
	DiscountedTotal int64                  `json:"discountedTotal"`
	Savings         int64                  `json:"savings"`
	DiscountRate    float64                `json:"discountRate"`
	Property        domain.PropertySummary `json:"property"`
}

type Decline struct {
	Reason string `json:"reason"`
}

func (d *Decline) Error() string { return "no offer: " + d.Reason }

func propertyCacheKey(id string) string { return "property:" + id }

// PropertyService fronts the catalog with the JSON cache.
type PropertyService struct {
	catalog  domain.PropertyCatalog
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewPropertyService(c domain.PropertyCatalog, cache domain.Cache, ttl time.Duration) *PropertyService {
	return &PropertyService{catalog: c, cache: cache, cacheTTL: ttl}
}

func (s *PropertyService) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	key := propertyCacheKey(id)
	var p domain.Property
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &p); ok {
			return p, nil
		}
	}
	p, err := s.catalog.GetProperty(ctx, id)
	if err != nil {
		return domain.Property{}, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, p, int(s.cacheTTL.Seconds()))
	}
	return p, nil
}

type NegotiationEngine struct {
	properties domain.PropertyCatalog
	rates      *RateResolver
}

func NewNegotiationEngine(p domain.PropertyCatalog, r *RateResolver) *NegotiationEngine {
	return &NegotiationEngine{properties: p, rates: r}
}

// Negotiate returns a quote, or a *Decline explaining why there is no offer.
// Any other error means the catalog itself failed.
func (e *NegotiationEngine) Negotiate(ctx context.Context, propertyID string) (Quote, error) {
	q, err := e.negotiate(ctx, propertyID)
	var d *Decline
	switch {
	case err == nil:
		observability.ObserveNegotiation("discount")
	case errors.As(err, &d):
		observability.ObserveNegotiation(d.Reason)
	}
	return q, err
}

func (e *NegotiationEngine) negotiate(ctx context.Context, propertyID string) (Quote, error) {
	id := strings.TrimSpace(propertyID)
	if !propertyIDPattern.MatchString(id) {
		return Quote{}, &Decline{Reason: ReasonInvalidPropertyID}
	}
	p, err := e.properties.GetProperty(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Quote{}, &Decline{Reason: ReasonPropertyNotFound}
		}
		return Quote{}, fmt.Errorf("lookup property %s: %w", id, err)
	}
	rate := e.rates.Resolve(ctx, id)
	if !(rate > 0) {
		return Quote{}, &Decline{Reason: ReasonDiscountDisabled}
	}
	discounted := DiscountedTotal(p.BasePriceNGN, rate)
	return Quote{
		BaseTotal:       p.BasePriceNGN,
		DiscountedTotal: discounted,
		Savings:         p.BasePriceNGN - discounted,
		DiscountRate:    rate,
		Property:        p.Summary(),
	}, nil
}

// DiscountedTotal is round(base * (1 - rate)) in exact decimal arithmetic,
// half away from zero, never below 0.
func DiscountedTotal(base int64, rate float64) int64 {
	if base <= 0 {
		return 0
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(rate))
	out := decimal.NewFromInt(base).Mul(factor).Round(0).IntPart()
	if out < 0 {
		return 0
	}
	return out
}
