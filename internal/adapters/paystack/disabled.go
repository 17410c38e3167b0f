package paystack

import (
	"context"
	"fmt"

	"stayhub/internal/domain"
)

// Disabled stands in when no secret key is configured. Every call reports the
// provider as unavailable so checkout and verify answer 502.
type Disabled struct{}

func (Disabled) Initialize(context.Context, domain.InitRequest) (domain.InitResponse, error) {
	return domain.InitResponse{}, fmt.Errorf("paystack not configured: %w", domain.ErrProviderUnavailable)
}

func (Disabled) Verify(context.Context, string) (domain.ProviderTransaction, error) {
	return domain.ProviderTransaction{}, fmt.Errorf("paystack not configured: %w", domain.ErrProviderUnavailable)
}
