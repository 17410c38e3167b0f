package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stayhub/internal/domain"
)

// PropertyWriter is implemented by every store that holds the catalog.
type PropertyWriter interface {
	UpsertProperty(ctx context.Context, p domain.Property) error
}

// ParseProperties reads a YAML list:
//
//	- id: acme-hotel-lagos
//	  name: Acme Hotel
//	  city: Lagos
//	  basePriceNGN: 100000
func ParseProperties(r io.Reader) ([]domain.Property, error) {
	var ps []domain.Property
	if err := yaml.NewDecoder(r).Decode(&ps); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	seen := make(map[string]bool, len(ps))
	for i := range ps {
		ps[i].ID = strings.TrimSpace(ps[i].ID)
		p := ps[i]
		if !propertyIDPattern.MatchString(p.ID) {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("[%d].id", i), Message: "is malformed"}
		}
		if seen[p.ID] {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("[%d].id", i), Message: "duplicate " + p.ID}
		}
		if p.BasePriceNGN < 0 {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("[%d].basePriceNGN", i), Message: "must not be negative"}
		}
		seen[p.ID] = true
	}
	return ps, nil
}

func LoadPropertiesFile(path string) ([]domain.Property, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseProperties(f)
}

// ImportProperties upserts ps and drops each one from the cache so the next
// lookup sees the new price.
func ImportProperties(ctx context.Context, w PropertyWriter, cache domain.Cache, ps []domain.Property) (int, error) {
	for i, p := range ps {
		if err := w.UpsertProperty(ctx, p); err != nil {
			return i, fmt.Errorf("upsert %s: %w", p.ID, err)
		}
		if cache != nil {
			_ = cache.Del(ctx, propertyCacheKey(p.ID))
		}
	}
	return len(ps), nil
}
