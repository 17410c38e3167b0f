package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stayhub/internal/app"
	"stayhub/internal/domain"
	"stayhub/internal/storage/memory"
)

func TestParseDiscounts(t *testing.T) {
	cfg, err := app.ParseDiscounts(strings.NewReader("default: 0.05\noverrides:\n  acme-hotel-lagos: 0.2\n"))
	if err != nil {
		t.Fatalf("ParseDiscounts: %v", err)
	}
	if cfg.Default != 0.05 || cfg.Overrides["acme-hotel-lagos"] != 0.2 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	empty, err := app.ParseDiscounts(strings.NewReader(""))
	if err != nil || empty.Overrides == nil || empty.Default != 0 {
		t.Fatalf("empty file: %+v, %v", empty, err)
	}

	for _, doc := range []string{"default: 1.5\n", "overrides:\n  x: -0.1\n", "default: [\n"} {
		if _, err := app.ParseDiscounts(strings.NewReader(doc)); err == nil {
			t.Errorf("%q: expected error", doc)
		}
	}
}

func TestDiscountAdmin_Versions(t *testing.T) {
	admin := app.NewDiscountAdmin(memory.New())
	ctx := context.Background()

	seeded, err := admin.SeedDiscounts(ctx, domain.DiscountConfig{Default: 0.1})
	if err != nil || !seeded {
		t.Fatalf("first seed = %v, %v", seeded, err)
	}
	seeded, err = admin.SeedDiscounts(ctx, domain.DiscountConfig{Default: 0.9})
	if err != nil || seeded {
		t.Fatalf("second seed should be skipped: %v, %v", seeded, err)
	}

	cur, _ := admin.Current(ctx)
	if cur.Version != 1 || cur.Default != 0.1 {
		t.Fatalf("unexpected current %+v", cur)
	}

	next, err := admin.Update(ctx, domain.DiscountConfig{Default: 0.2}, cur.Version)
	if err != nil || next.Version != 2 {
		t.Fatalf("Update: %+v, %v", next, err)
	}
	if _, err := admin.Update(ctx, domain.DiscountConfig{Default: 0.3}, cur.Version); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("stale update: %v", err)
	}
	if _, err := admin.Update(ctx, domain.DiscountConfig{Default: 2}, next.Version); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("invalid rate: %v", err)
	}

	out, err := admin.SetRate(ctx, "acme-hotel-lagos", 0.25)
	if err != nil || out.RateFor("acme-hotel-lagos") != 0.25 || out.Default != 0.2 {
		t.Fatalf("SetRate: %+v, %v", out, err)
	}
	out, err = admin.SetRate(ctx, "", 0)
	if err != nil || out.Default != 0 || out.RateFor("acme-hotel-lagos") != 0.25 {
		t.Fatalf("SetRate default: %+v, %v", out, err)
	}
}
