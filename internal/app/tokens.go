package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stayhub/internal/adapters/observability"
	"stayhub/internal/domain"
)

const tokenIssuer = "stayhub"

type tokenClaims struct {
	Kind    domain.TokenKind  `json:"kind"`
	Payload map[string]string `json:"payload,omitempty"`
	jwt.RegisteredClaims
}

// TokenService mints short-lived HS256 tokens for email flows. It does not
// track consumption; a token is usable until it expires.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), now: time.Now}
}

func (s *TokenService) WithClock(now func() time.Time) *TokenService { s.now = now; return s }

func (s *TokenService) Issue(payload map[string]string, kind domain.TokenKind, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("token secret is not configured")
	}
	if kind == "" {
		return "", &domain.ValidationError{Field: "kind", Message: "is required"}
	}
	if ttl <= 0 {
		return "", &domain.ValidationError{Field: "ttl", Message: "must be positive"}
	}
	now := s.now()
	claims := tokenClaims{
		Kind:    kind,
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	observability.ObserveTokenIssued(string(kind))
	return signed, nil
}

// Verify never returns an error: anything other than a well-formed, correctly
// signed, unexpired token is reported as invalid or expired.
func (s *TokenService) Verify(token string) domain.Verification {
	if len(s.secret) == 0 || token == "" {
		return domain.Verification{Reason: domain.ReasonInvalid}
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil && claims.Kind != "":
		return domain.Verification{Valid: true, Kind: claims.Kind, Payload: claims.Payload}
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Verification{Reason: domain.ReasonExpired}
	default:
		return domain.Verification{Reason: domain.ReasonInvalid}
	}
}

// VerifyKind is Verify plus the purpose check; a token minted for another
// flow is invalid here.
func (s *TokenService) VerifyKind(token string, kind domain.TokenKind) domain.Verification {
	v := s.Verify(token)
	if v.Valid && v.Kind != kind {
		return domain.Verification{Reason: domain.ReasonInvalid}
	}
	return v
}
