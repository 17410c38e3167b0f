package domain

import (
	"fmt"
	"math"
	"time"
)

// DiscountConfig is one immutable version of the negotiated rate table.
// Version grows by one on every accepted update.
type DiscountConfig struct {
	Default   float64            `json:"default" yaml:"default"`
	Overrides map[string]float64 `json:"overrides" yaml:"overrides"`
	Version   int64              `json:"version" yaml:"-"`
	UpdatedAt time.Time          `json:"updatedAt" yaml:"-"`
}

func ValidRate(r float64) bool {
	return !math.IsNaN(r) && r >= 0 && r <= 1
}

// RateFor returns the override for id, else the default. A stored rate outside
// [0,1] is treated as 0 so a bad row disables negotiation instead of inflating it.
func (c DiscountConfig) RateFor(id string) float64 {
	r, ok := c.Overrides[id]
	if !ok {
		r = c.Default
	}
	if !ValidRate(r) {
		return 0
	}
	return r
}

func (c DiscountConfig) Validate() error {
	if !ValidRate(c.Default) {
		return &ValidationError{Field: "default", Message: "must be within [0,1]"}
	}
	for id, r := range c.Overrides {
		if id == "" {
			return &ValidationError{Field: "overrides", Message: "property id must not be empty"}
		}
		if !ValidRate(r) {
			return &ValidationError{Field: "overrides." + id, Message: fmt.Sprintf("rate %v must be within [0,1]", r)}
		}
	}
	return nil
}

// Clone deep-copies the override map so callers can't mutate a stored snapshot.
func (c DiscountConfig) Clone() DiscountConfig {
	out := c
	out.Overrides = make(map[string]float64, len(c.Overrides))
	for k, v := range c.Overrides {
		out.Overrides[k] = v
	}
	return out
}
