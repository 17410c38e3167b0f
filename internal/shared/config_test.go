package shared

import (
	"testing"
	"time"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("RESET_TTL_SECONDS", "60")
	t.Setenv("ALLOWED_ORIGINS", "https://a.ng, https://b.ng ,")
	t.Setenv("PUBLIC_BASE_URL", "https://stayhub.ng/")
	t.Setenv("PAYSTACK_RPS", "not-a-number")

	c := Load()
	if c.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr: %q", c.HTTPAddr)
	}
	if c.ResetTTL != time.Minute {
		t.Fatalf("ResetTTL: %v", c.ResetTTL)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.ng" {
		t.Fatalf("AllowedOrigins: %v", c.AllowedOrigins)
	}
	if c.PublicBaseURL != "https://stayhub.ng" {
		t.Fatalf("PublicBaseURL: %q", c.PublicBaseURL)
	}
	if c.PaystackRPS != 5 {
		t.Fatalf("bad int should fall back to default, got %d", c.PaystackRPS)
	}
	if c.ActivationTTL != 24*time.Hour {
		t.Fatalf("ActivationTTL default: %v", c.ActivationTTL)
	}
}
