package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"stayhub/internal/app"
	"stayhub/internal/domain"
)

const (
	maxWebhookBody = 1 << 20
	maxJSONBody    = 64 << 10
)

type Handlers struct {
	Engine    *app.NegotiationEngine
	Payments  *app.PaymentService
	Gateway   *app.Gateway
	Checkout  *app.CheckoutService
	Accounts  *app.AccountService
	Discounts *app.DiscountAdmin
	AdminKey  string
	Limiter   *RateLimiter
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Post("/negotiate", h.negotiate)

	s.mux.Route("/payments", func(r chi.Router) {
		r.Post("/checkout", h.checkout)
		r.Post("/webhook", h.webhook)
		r.Get("/intent", h.getIntent)
		r.Get("/verify", h.verify)
	})

	s.mux.Route("/auth", func(r chi.Router) {
		if h.Limiter != nil {
			r.Use(h.Limiter.Limit)
		}
		r.Post("/activation/request", h.requestActivation)
		r.Post("/activation/confirm", h.confirmActivation)
		r.Post("/password/forgot", h.forgotPassword)
		r.Post("/password/reset", h.resetPassword)
	})

	s.mux.Route("/admin", func(r chi.Router) {
		r.Use(AdminOnly(h.AdminKey))
		r.Get("/discounts", h.getDiscounts)
		r.Put("/discounts", h.putDiscounts)
		r.Get("/payments/{reference}/events", h.listEvents)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// statusFor is the single error-to-HTTP mapping.
func statusFor(err error) (int, string) {
	var te *app.TokenError
	switch {
	case errors.As(err, &te), errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "Too Many Requests"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway, "Bad Gateway"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Service Unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Gateway Timeout"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// writeError logs server-side failures in full and keeps their detail out of
// the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusFor(err)
	detail := err.Error()
	if status >= 500 {
		log.Error().Err(err).Str("route", routeOf(r)).Msg("request failed")
		detail = ""
		if status != http.StatusInternalServerError {
			detail = title
		}
	}
	writeProblem(w, status, title, detail)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "body must be a JSON object")
		return false
	}
	return true
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

func writeWithETag(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

// ---- negotiation ----

type negotiateRequest struct {
	PropertyID string `json:"propertyId"`
}

type offerResponse struct {
	Status string `json:"status"`
	app.Quote
}

type noOfferResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handlers) negotiate(w http.ResponseWriter, r *http.Request) {
	var req negotiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	q, err := h.Engine.Negotiate(r.Context(), req.PropertyID)
	var d *app.Decline
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, offerResponse{Status: "discount", Quote: q})
	case errors.As(err, &d):
		status := http.StatusOK
		switch d.Reason {
		case app.ReasonInvalidPropertyID:
			status = http.StatusBadRequest
		case app.ReasonPropertyNotFound:
			status = http.StatusNotFound
		}
		writeJSON(w, status, noOfferResponse{Status: "no-offer", Reason: d.Reason})
	default:
		writeError(w, r, err)
	}
}

// ---- payments ----

func (h *Handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var req app.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "")
			return
		}
		writeProblem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
		return
	}
	sig := r.Header.Get("X-Provider-Signature")
	if sig == "" {
		sig = r.Header.Get("X-Paystack-Signature")
	}
	res, err := h.Gateway.HandleWebhook(r.Context(), body, sig)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			log.Warn().Str("remote", remoteIP(r)).Msg("webhook signature rejected")
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stored": res.Stored})
}

type intentSummary struct {
	Reference  string               `json:"reference"`
	Status     domain.PaymentStatus `json:"status"`
	AmountNGN  int64                `json:"amountNGN"`
	Currency   string               `json:"currency"`
	PropertyID string               `json:"propertyId"`
	PaidAt     *time.Time           `json:"paidAt,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	UpdatedAt  time.Time            `json:"updatedAt"`
}

func summarize(pi domain.PaymentIntent) intentSummary {
	return intentSummary{
		Reference:  pi.Reference,
		Status:     pi.Status,
		AmountNGN:  pi.AmountNGN,
		Currency:   pi.Currency,
		PropertyID: pi.PropertyID,
		PaidAt:     pi.PaidAt,
		CreatedAt:  pi.CreatedAt,
		UpdatedAt:  pi.UpdatedAt,
	}
}

func (h *Handlers) getIntent(w http.ResponseWriter, r *http.Request) {
	pi, err := h.Payments.Get(r.Context(), strings.TrimSpace(r.URL.Query().Get("reference")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWithETag(w, r, summarize(pi))
}

type verifyResponse struct {
	Provider json.RawMessage      `json:"provider"`
	Status   domain.PaymentStatus `json:"status"`
	Stored   bool                 `json:"stored"`
	Outcome  domain.Outcome       `json:"outcome,omitempty"`
}

func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.Gateway.Verify(r.Context(), r.URL.Query().Get("reference"), domain.SourceVerify)
	if err != nil {
		writeError(w, r, err)
		return
	}
	provider := json.RawMessage(res.Transaction.Raw)
	if len(provider) == 0 || !json.Valid(provider) {
		provider = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, verifyResponse{Provider: provider, Status: res.Status, Stored: res.Stored, Outcome: res.Outcome})
}

// ---- accounts ----

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword,omitempty"`
}

var okBody = map[string]bool{"ok": true}

// Mail delivery failures are logged and still answered with 200 so the
// response never tells whether an account exists.
func (h *Handlers) sendLink(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := fn(r.Context(), req.Email); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, r, err)
			return
		}
		log.Error().Err(err).Str("route", routeOf(r)).Msg("account link not sent")
	}
	writeJSON(w, http.StatusOK, okBody)
}

func (h *Handlers) requestActivation(w http.ResponseWriter, r *http.Request) {
	h.sendLink(w, r, h.Accounts.RequestActivation)
}

func (h *Handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	h.sendLink(w, r, h.Accounts.ForgotPassword)
}

func (h *Handlers) confirmActivation(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email, err := h.Accounts.ConfirmActivation(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "email": email})
}

func (h *Handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.Accounts.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if errors.Is(err, domain.ErrNotFound) {
		// a valid token for an account that no longer exists
		err = &app.TokenError{Reason: domain.ReasonInvalid}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody)
}

// ---- admin ----

func (h *Handlers) getDiscounts(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Discounts.Current(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWithETag(w, r, cfg)
}

type discountsRequest struct {
	Default   *float64           `json:"default"`
	Overrides map[string]float64 `json:"overrides"`
	Version   *int64             `json:"version"`
}

func (h *Handlers) putDiscounts(w http.ResponseWriter, r *http.Request) {
	var req discountsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Version == nil || req.Default == nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "default and version are required")
		return
	}
	cfg, err := h.Discounts.Update(r.Context(), domain.DiscountConfig{Default: *req.Default, Overrides: req.Overrides}, *req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Int64("version", cfg.Version).Msg("discount config updated")
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Payments.Events(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if evs == nil {
		evs = []domain.PaymentEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": evs})
}
