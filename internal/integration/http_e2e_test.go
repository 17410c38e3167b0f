//go:build integration || !unit

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "stayhub/internal/adapters/http_server"
	"stayhub/internal/adapters/paystack"
	redisad "stayhub/internal/adapters/redis"
	"stayhub/internal/app"
	"stayhub/internal/domain"
	"stayhub/internal/shared"
	"stayhub/internal/storage"
)

const (
	webhookSecret = "sk_test_e2e"
	adminKey      = "admin-e2e"
)

// ---------- helpers ----------

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = filepath.Join("..", "..", "migrations", "mysql")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir %s: %v", dir, err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

// ---------- fake Paystack ----------

type fakePaystack struct {
	mu     sync.Mutex
	status map[string]string // reference -> provider status
	amount map[string]int64  // reference -> kobo
}

func newFakePaystack(t *testing.T) (*fakePaystack, *httptest.Server) {
	fp := &fakePaystack{status: map[string]string{}, amount: map[string]int64{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/initialize", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+webhookSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in struct {
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		fp.mu.Lock()
		fp.status[in.Reference] = "abandoned"
		fp.amount[in.Reference] = in.Amount
		fp.mu.Unlock()
		fmt.Fprintf(w, `{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.test/%s","access_code":"ac","reference":%q}}`, in.Reference, in.Reference)
	})
	mux.HandleFunc("/transaction/verify/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		fp.mu.Lock()
		st, ok := fp.status[ref]
		amt := fp.amount[ref]
		fp.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
			return
		}
		fmt.Fprintf(w, `{"status":true,"message":"ok","data":{"status":%q,"reference":%q,"amount":%d}}`, st, ref, amt)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fp, ts
}

func (fp *fakePaystack) pay(ref string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.status[ref] = "success"
}

// ---------- wiring ----------

type stack struct {
	ts      *httptest.Server
	gateway *app.Gateway
	fp      *fakePaystack
}

func newStack(t *testing.T, stores *storage.Stores) *stack {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	cache := redisad.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = cache.Close() })

	ps, err := app.ParseProperties(strings.NewReader(`
- id: acme-hotel-lagos
  name: Acme Hotel
  city: Lagos
  basePriceNGN: 100000
`))
	if err != nil {
		t.Fatalf("parse properties: %v", err)
	}
	if _, err := app.ImportProperties(ctx, stores.Writer, cache, ps); err != nil {
		t.Fatalf("import properties: %v", err)
	}
	discounts := app.NewDiscountAdmin(stores.Discounts)
	if _, err := discounts.SetRate(ctx, "acme-hotel-lagos", 0.2); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	fp, pts := newFakePaystack(t)
	client, err := paystack.New(paystack.Options{BaseURL: pts.URL, Secret: webhookSecret, Timeout: 2 * time.Second, RPS: 100})
	if err != nil {
		t.Fatalf("paystack client: %v", err)
	}

	catalog := app.NewPropertyService(stores.Catalog, cache, time.Minute)
	engine := app.NewNegotiationEngine(catalog, app.NewRateResolver(stores.Discounts))
	payments := app.NewPaymentService(stores.Payments)
	gateway := app.NewGateway(client, payments, webhookSecret)

	limiter := server.NewRateLimiter(12, 5*time.Second)
	t.Cleanup(limiter.Stop)

	srv := server.New(server.Options{})
	srv.MountHandlers(&server.Handlers{
		Engine:    engine,
		Payments:  payments,
		Gateway:   gateway,
		Checkout:  app.NewCheckoutService(catalog, engine, payments, client, "https://stayhub.test/callback"),
		Discounts: discounts,
		AdminKey:  adminKey,
		Limiter:   limiter,
	})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return &stack{ts: ts, gateway: gateway, fp: fp}
}

func (s *stack) call(t *testing.T, method, path string, body []byte, hdr map[string]string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, raw)
		}
	}
	return res.StatusCode
}

// ---------- the flow ----------

func runBookingFlow(t *testing.T, stores *storage.Stores) {
	s := newStack(t, stores)

	var quote struct {
		Status          string `json:"status"`
		DiscountedTotal int64  `json:"discountedTotal"`
	}
	if code := s.call(t, "POST", "/negotiate", []byte(`{"propertyId":"acme-hotel-lagos"}`), nil, &quote); code != 200 {
		t.Fatalf("negotiate status %d", code)
	}
	if quote.Status != "discount" || quote.DiscountedTotal != 80000 {
		t.Fatalf("unexpected quote %+v", quote)
	}

	var co app.CheckoutResult
	req := []byte(`{"propertyId":"acme-hotel-lagos","email":"Guest@Example.com","negotiated":true}`)
	if code := s.call(t, "POST", "/payments/checkout", req, nil, &co); code != 201 {
		t.Fatalf("checkout status %d", code)
	}
	if !strings.HasPrefix(co.Reference, "PSK-") || co.AmountNGN != 80000 || !co.Discounted {
		t.Fatalf("unexpected checkout %+v", co)
	}

	// the guest pays; Paystack pushes the webhook
	s.fp.pay(co.Reference)
	hook := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":8000000}}`, co.Reference))

	var ack struct {
		OK     bool `json:"ok"`
		Stored bool `json:"stored"`
	}
	if code := s.call(t, "POST", "/payments/webhook", hook, map[string]string{"X-Paystack-Signature": "deadbeef"}, nil); code != 401 {
		t.Fatalf("forged webhook status %d", code)
	}
	sig := app.Sign([]byte(webhookSecret), hook)
	if code := s.call(t, "POST", "/payments/webhook", hook, map[string]string{"X-Paystack-Signature": sig}, &ack); code != 200 || !ack.Stored {
		t.Fatalf("webhook status %d ack %+v", code, ack)
	}

	var intent struct {
		Status    domain.PaymentStatus `json:"status"`
		AmountNGN int64                `json:"amountNGN"`
		PaidAt    *time.Time           `json:"paidAt"`
	}
	if code := s.call(t, "GET", "/payments/intent?reference="+co.Reference, nil, nil, &intent); code != 200 {
		t.Fatalf("intent status %d", code)
	}
	if intent.Status != domain.StatusPaid || intent.PaidAt == nil || intent.AmountNGN != 80000 {
		t.Fatalf("unexpected intent %+v", intent)
	}

	var ver struct {
		Status  domain.PaymentStatus `json:"status"`
		Stored  bool                 `json:"stored"`
		Outcome domain.Outcome       `json:"outcome"`
	}
	if code := s.call(t, "GET", "/payments/verify?reference="+co.Reference, nil, nil, &ver); code != 200 {
		t.Fatalf("verify status %d", code)
	}
	if ver.Status != domain.StatusPaid || !ver.Stored || ver.Outcome != domain.OutcomeNoop {
		t.Fatalf("unexpected verify %+v", ver)
	}

	var evs struct {
		Items []domain.PaymentEvent `json:"items"`
	}
	path := "/admin/payments/" + co.Reference + "/events"
	if code := s.call(t, "GET", path, nil, nil, nil); code != 401 {
		t.Fatalf("events without key status %d", code)
	}
	if code := s.call(t, "GET", path, nil, map[string]string{"X-Admin-Key": adminKey}, &evs); code != 200 {
		t.Fatalf("events status %d", code)
	}
	if len(evs.Items) != 2 || evs.Items[0].Source != domain.SourceWebhook || evs.Items[1].Outcome != domain.OutcomeNoop {
		t.Fatalf("unexpected events %+v", evs.Items)
	}

	// an abandoned checkout is failed by the sweep
	var stale app.CheckoutResult
	if code := s.call(t, "POST", "/payments/checkout", []byte(`{"propertyId":"acme-hotel-lagos","email":"late@example.com"}`), nil, &stale); code != 201 {
		t.Fatalf("second checkout status %d", code)
	}
	rep, err := s.gateway.SweepStale(context.Background(), time.Now().Add(time.Minute), 10, 2)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Checked != 1 || rep.Settled != 1 {
		t.Fatalf("unexpected sweep %+v", rep)
	}
	if code := s.call(t, "GET", "/payments/intent?reference="+stale.Reference, nil, nil, &intent); code != 200 || intent.Status != domain.StatusFailed {
		t.Fatalf("stale intent %d %+v", code, intent)
	}
}

// ---------- the tests ----------

func TestHTTP_EndToEnd_Booking_SQLite(t *testing.T) {
	stores, err := storage.Open(context.Background(), shared.Config{
		StoreDriver: "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "e2e.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	runBookingFlow(t, stores)
}

func TestHTTP_EndToEnd_Booking_MySQL(t *testing.T) {
	// Start isolated MySQL container
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("dockertest: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not reachable: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=stayhub",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/stayhub?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	applyMigrations(t, db)
	_ = db.Close()

	stores, err := storage.Open(context.Background(), shared.Config{StoreDriver: "mysql", MySQLDSN: dsn})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	t.Cleanup(func() { _ = stores.Close() })
	runBookingFlow(t, stores)
}
