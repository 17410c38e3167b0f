// Package paystack is the outbound client for the Paystack transaction API.
package paystack

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"stayhub/internal/adapters/observability"
	"stayhub/internal/domain"
)

const maxAttempts = 4

type Client struct {
	rc *resty.Client
	rl *rate.Limiter
}

type Options struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
	RPS     int
}

func New(o Options) (*Client, error) {
	if o.Secret == "" {
		return nil, fmt.Errorf("paystack secret key is required")
	}
	if o.RPS <= 0 {
		o.RPS = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(o.BaseURL, "/")).
		SetAuthToken(o.Secret).
		SetTimeout(o.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "stayhub/1.0")
	return &Client{rc: rc, rl: rate.NewLimiter(rate.Limit(o.RPS), o.RPS)}, nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"` // kobo
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
}

// Initialize opens a transaction and returns the hosted checkout URL.
func (c *Client) Initialize(ctx context.Context, req domain.InitRequest) (domain.InitResponse, error) {
	body := initBody{
		Email:       req.Email,
		Amount:      req.AmountNGN * 100,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}
	env, _, err := c.do(ctx, http.MethodPost, "/transaction/initialize", "initialize", body)
	if err != nil {
		return domain.InitResponse{}, err
	}
	var d initData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return domain.InitResponse{}, fmt.Errorf("%w: decode initialize: %v", domain.ErrProviderUnavailable, err)
	}
	if d.AuthorizationURL == "" {
		return domain.InitResponse{}, fmt.Errorf("%w: initialize returned no authorization url", domain.ErrProviderUnavailable)
	}
	if d.Reference == "" {
		d.Reference = req.Reference
	}
	return domain.InitResponse{AuthorizationURL: d.AuthorizationURL, AccessCode: d.AccessCode, Reference: d.Reference}, nil
}

// Verify fetches the provider's record for reference. Raw holds the full
// response body so callers can store and echo it.
func (c *Client) Verify(ctx context.Context, reference string) (domain.ProviderTransaction, error) {
	env, raw, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), "verify", nil)
	if err != nil {
		return domain.ProviderTransaction{}, err
	}
	var d verifyData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return domain.ProviderTransaction{}, fmt.Errorf("%w: decode verify: %v", domain.ErrProviderUnavailable, err)
	}
	if d.Reference == "" {
		d.Reference = reference
	}
	return domain.ProviderTransaction{Reference: d.Reference, Status: d.Status, AmountKobo: d.Amount, Raw: raw}, nil
}

// do sends one logical request with client-side rate limiting and retries on
// 429 and transient 5xx, honouring Retry-After.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body any) (envelope, []byte, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return envelope{}, nil, fmt.Errorf("%w: rate limit wait: %w", domain.ErrProviderUnavailable, err)
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		r := c.rc.R().SetContext(ctx)
		if body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(body)
		}
		start := time.Now()
		resp, err := r.Execute(method, path)
		if err != nil {
			observability.ObserveExternal("paystack", endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return envelope{}, nil, expired(ctx)
			}
			lastErr = fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
			if i < maxAttempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return envelope{}, nil, lastErr
		}
		status := resp.StatusCode()
		observability.ObserveExternal("paystack", endpoint, status, time.Since(start))
		raw := resp.Body()

		switch {
		case status >= 200 && status < 300:
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return envelope{}, nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
			}
			if !env.Status {
				return envelope{}, nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, env.Message)
			}
			return env, raw, nil

		case status == http.StatusNotFound:
			return envelope{}, nil, domain.ErrNotFound

		case status == http.StatusBadRequest:
			msg := message(raw)
			// unknown references come back as 400 with a "not found" message
			if strings.Contains(strings.ToLower(msg), "not found") {
				return envelope{}, nil, domain.ErrNotFound
			}
			return envelope{}, nil, &domain.ValidationError{Field: "provider", Message: msg}

		case status == http.StatusTooManyRequests || status >= 500:
			wait := retryAfter(resp.Header())
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("%w: remote %d", domain.ErrProviderUnavailable, status)
			if i < maxAttempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return envelope{}, nil, expired(ctx)
			}
			return envelope{}, nil, lastErr

		default:
			return envelope{}, nil, fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, status, message(raw))
		}
	}
	return envelope{}, nil, lastErr
}

// expired reports a caller deadline or cancellation as the provider being
// unavailable, keeping the context error in the chain.
func expired(ctx context.Context) error {
	return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, ctx.Err())
}

func message(raw []byte) string {
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		return env.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

// sleepCtx waits for d or returns false early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent or invalid.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff is 200ms doubling per attempt plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}

var _ domain.PaymentProvider = (*Client)(nil)

