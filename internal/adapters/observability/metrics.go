package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stayhub", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stayhub", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"},
	)
	Negotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "negotiations_total", Help: "Negotiation outcomes."},
		[]string{"outcome"}, // discount | invalid-property-id | property-not-found | discount-disabled
	)
	PaymentUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "payment_status_updates_total", Help: "ApplyStatus calls by source, target status and outcome."},
		[]string{"source", "status", "outcome"},
	)
	Webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "webhooks_total", Help: "Inbound provider webhooks."},
		[]string{"result"}, // accepted | bad_signature | bad_payload | store_error
	)
	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayhub", Name: "tokens_issued_total", Help: "Signed tokens issued."},
		[]string{"kind"},
	)
)

// Serve exposes reg on a separate listener. It returns nil when addr is empty.
func Serve(addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		Negotiations, PaymentUpdates, Webhooks, TokensIssued)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveNegotiation(outcome string) { Negotiations.WithLabelValues(outcome).Inc() }

func ObservePaymentUpdate(source, status, outcome string) {
	PaymentUpdates.WithLabelValues(source, status, outcome).Inc()
}

func ObserveWebhook(result string) { Webhooks.WithLabelValues(result).Inc() }

func ObserveTokenIssued(kind string) { TokensIssued.WithLabelValues(kind).Inc() }
