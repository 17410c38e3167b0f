package paystack_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stayhub/internal/adapters/paystack"
	"stayhub/internal/domain"
)

func newClient(t *testing.T, url string) *paystack.Client {
	t.Helper()
	cl, err := paystack.New(paystack.Options{BaseURL: url, Secret: "sk_test", Timeout: time.Second, RPS: 100})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return cl
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := paystack.New(paystack.Options{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestClient_Initialize(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"PSK-1"}}`))
	}))
	defer ts.Close()

	res, err := newClient(t, ts.URL).Initialize(context.Background(), domain.InitRequest{
		Reference: "PSK-1", Email: "guest@example.com", AmountNGN: 80000, Currency: "NGN",
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if res.AuthorizationURL != "https://checkout.paystack.com/abc" || res.Reference != "PSK-1" {
		t.Fatalf("unexpected response %+v", res)
	}
	if amt, _ := got["amount"].(float64); amt != 8000000 {
		t.Fatalf("amount sent = %v, want kobo", got["amount"])
	}
}

func TestClient_Verify_RetriesThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			if r.URL.Path != "/transaction/verify/PSK123" {
				t.Errorf("path = %s", r.URL.Path)
			}
			_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"status":"success","reference":"PSK123","amount":8000000}}`))
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	tx, err := newClient(t, ts.URL).Verify(ctx, "PSK123")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if tx.Status != "success" || tx.AmountKobo != 8000000 || tx.Reference != "PSK123" {
		t.Fatalf("unexpected tx %+v", tx)
	}
	var raw map[string]any
	if err := json.Unmarshal(tx.Raw, &raw); err != nil || raw["message"] != "Verification successful" {
		t.Fatalf("raw payload not kept: %s", tx.Raw)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 calls, got %d", hits)
	}
}

func TestClient_Verify_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	}))
	defer ts.Close()

	if _, err := newClient(t, ts.URL).Verify(context.Background(), "PSK-x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestClient_Verify_Unavailable(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := newClient(t, ts.URL).Verify(ctx, "PSK-x"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("want ErrProviderUnavailable, got %v", err)
	}
	if hits != 4 {
		t.Fatalf("attempts = %d, want 4", hits)
	}
}

func TestClient_Verify_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := newClient(t, url).Verify(ctx, "PSK-x"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("want ErrProviderUnavailable, got %v", err)
	}
}

func TestDisabled(t *testing.T) {
	var p domain.PaymentProvider = paystack.Disabled{}
	if _, err := p.Initialize(context.Background(), domain.InitRequest{Reference: "PSK-1"}); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := p.Verify(context.Background(), "PSK-1"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("verify: %v", err)
	}
}

func TestClient_DeadlineIsProviderUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","reference":"PSK-1"}}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newClient(t, ts.URL).Verify(ctx, "PSK-1")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("want ErrProviderUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline lost from chain: %v", err)
	}
}

func TestClient_RateLimitWaitIsProviderUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","reference":"PSK-1"}}`))
	}))
	defer ts.Close()

	cl, err := paystack.New(paystack.Options{BaseURL: ts.URL, Secret: "sk_test", Timeout: time.Second, RPS: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cl.Verify(context.Background(), "PSK-1"); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	// the bucket is empty and the next token is a second away
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := cl.Verify(ctx, "PSK-1"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("want ErrProviderUnavailable, got %v", err)
	}
}
