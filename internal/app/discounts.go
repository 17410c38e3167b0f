package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"stayhub/internal/domain"
)

// DiscountAdmin edits the versioned rate table. Writers must present the
// version they read; a stale version is rejected with domain.ErrVersionConflict.
type DiscountAdmin struct {
	store domain.DiscountStore
}

func NewDiscountAdmin(s domain.DiscountStore) *DiscountAdmin { return &DiscountAdmin{store: s} }

func (a *DiscountAdmin) Current(ctx context.Context) (domain.DiscountConfig, error) {
	return a.store.CurrentDiscounts(ctx)
}

func (a *DiscountAdmin) Update(ctx context.Context, cfg domain.DiscountConfig, expectedVersion int64) (domain.DiscountConfig, error) {
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]float64{}
	}
	if err := cfg.Validate(); err != nil {
		return domain.DiscountConfig{}, err
	}
	return a.store.UpdateDiscounts(ctx, cfg, expectedVersion)
}

// SetRate changes one override (or the default when propertyID is empty),
// retrying on concurrent writers.
func (a *DiscountAdmin) SetRate(ctx context.Context, propertyID string, rate float64) (domain.DiscountConfig, error) {
	for i := 0; i < casAttempts; i++ {
		cur, err := a.store.CurrentDiscounts(ctx)
		if err != nil {
			return domain.DiscountConfig{}, err
		}
		next := cur.Clone()
		if propertyID == "" {
			next.Default = rate
		} else {
			next.Overrides[propertyID] = rate
		}
		out, err := a.Update(ctx, next, cur.Version)
		if err == nil || !isVersionConflict(err) {
			return out, err
		}
	}
	return domain.DiscountConfig{}, fmt.Errorf("set rate: %w", domain.ErrVersionConflict)
}

// ParseDiscounts reads a YAML rate table:
//
//	default: 0.05
//	overrides:
//	  acme-hotel-lagos: 0.2
func ParseDiscounts(r io.Reader) (domain.DiscountConfig, error) {
	var cfg domain.DiscountConfig
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return domain.DiscountConfig{}, fmt.Errorf("decode discounts: %w", err)
	}
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]float64{}
	}
	if err := cfg.Validate(); err != nil {
		return domain.DiscountConfig{}, err
	}
	return cfg, nil
}

func LoadDiscountsFile(path string) (domain.DiscountConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.DiscountConfig{}, err
	}
	defer f.Close()
	return ParseDiscounts(f)
}

// SeedDiscounts installs cfg only when the store is still at version 0.
func (a *DiscountAdmin) SeedDiscounts(ctx context.Context, cfg domain.DiscountConfig) (bool, error) {
	cur, err := a.store.CurrentDiscounts(ctx)
	if err != nil {
		return false, err
	}
	if cur.Version != 0 {
		return false, nil
	}
	if _, err := a.Update(ctx, cfg, 0); err != nil {
		if isVersionConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isVersionConflict(err error) bool { return errors.Is(err, domain.ErrVersionConflict) }
