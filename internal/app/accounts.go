package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"stayhub/internal/domain"
)

const minPasswordLen = 8

// TokenError is returned when a presented token fails verification.
type TokenError struct{ Reason string }

func (e *TokenError) Error() string { return "token " + e.Reason }

func (e *TokenError) Unwrap() error { return domain.ErrValidation }

type AccountService struct {
	users         domain.UserStore
	tokens        *TokenService
	mailer        domain.Mailer
	baseURL       string
	activationTTL time.Duration
	resetTTL      time.Duration
	now           func() time.Time
}

type AccountOptions struct {
	PublicBaseURL string
	ActivationTTL time.Duration
	ResetTTL      time.Duration
}

func NewAccountService(u domain.UserStore, t *TokenService, m domain.Mailer, opts AccountOptions) *AccountService {
	return &AccountService{
		users:         u,
		tokens:        t,
		mailer:        m,
		baseURL:       strings.TrimRight(opts.PublicBaseURL, "/"),
		activationTTL: opts.ActivationTTL,
		resetTTL:      opts.ResetTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(s string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return "", &domain.ValidationError{Field: "email", Message: "must be a valid address"}
	}
	return e, nil
}

func (s *AccountService) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

// RequestActivation mails an activation link for email.
func (s *AccountService) RequestActivation(ctx context.Context, email string) error {
	e, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	tok, err := s.tokens.Issue(map[string]string{"email": e}, domain.TokenActivation, s.activationTTL)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Welcome to StayHub.\n\nConfirm your email within %s:\n%s\n", s.activationTTL, s.link("/activate", tok))
	if err := s.mailer.Send(ctx, e, "Activate your StayHub account", body); err != nil {
		return fmt.Errorf("send activation mail: %w", err)
	}
	return nil
}

func (s *AccountService) ConfirmActivation(ctx context.Context, token string) (string, error) {
	v := s.tokens.VerifyKind(token, domain.TokenActivation)
	if !v.Valid {
		return "", &TokenError{Reason: v.Reason}
	}
	e := v.Payload["email"]
	if e == "" {
		return "", &TokenError{Reason: domain.ReasonInvalid}
	}
	if err := s.users.ActivateUser(ctx, e, s.now()); err != nil {
		return "", err
	}
	return e, nil
}

// ForgotPassword mails a reset link when the account exists. Unknown emails
// succeed silently so the endpoint can't be used to probe for accounts.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	e, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if _, err := s.users.GetUser(ctx, e); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Info().Str("email", e).Msg("password reset requested for unknown account")
			return nil
		}
		return err
	}
	tok, err := s.tokens.Issue(map[string]string{"email": e}, domain.TokenPasswordReset, s.resetTTL)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Someone asked to reset your StayHub password.\n\nThe link below is valid for %s:\n%s\n\nIgnore this mail if it wasn't you.\n",
		s.resetTTL, s.link("/reset-password", tok))
	if err := s.mailer.Send(ctx, e, "Reset your StayHub password", body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}

func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	v := s.tokens.VerifyKind(token, domain.TokenPasswordReset)
	if !v.Valid {
		return &TokenError{Reason: v.Reason}
	}
	if len(newPassword) < minPasswordLen {
		return &domain.ValidationError{Field: "newPassword", Message: fmt.Sprintf("must be at least %d characters", minPasswordLen)}
	}
	e := v.Payload["email"]
	if e == "" {
		return &TokenError{Reason: domain.ReasonInvalid}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return &domain.ValidationError{Field: "newPassword", Message: "must be at most 72 bytes"}
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.SetPasswordHash(ctx, e, hash)
}
