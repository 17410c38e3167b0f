package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	server "stayhub/internal/adapters/http_server"
	"stayhub/internal/adapters/mailer"
	"stayhub/internal/adapters/observability"
	"stayhub/internal/adapters/paystack"
	redisad "stayhub/internal/adapters/redis"
	"stayhub/internal/app"
	"stayhub/internal/domain"
	"stayhub/internal/shared"
	"stayhub/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		Environment: cfg.AppEnv,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("tracing init failed")
	}
	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	defer stores.Close()

	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rc.Ping(pctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; cache calls will miss")
		}
		cancel()
		defer rc.Close()
		cache = rc
	}

	discounts := app.NewDiscountAdmin(stores.Discounts)
	if err := seed(ctx, cfg, stores, discounts, cache); err != nil {
		log.Fatal().Err(err).Msg("seeding failed")
	}

	var provider domain.PaymentProvider = paystack.Disabled{}
	if cfg.PaystackSecret != "" {
		pc, err := paystack.New(paystack.Options{
			BaseURL: cfg.PaystackBase,
			Secret:  cfg.PaystackSecret,
			Timeout: cfg.PaystackTimeout,
			RPS:     cfg.PaystackRPS,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("paystack client init failed")
		}
		provider = pc
	}

	mail, err := mailer.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("mailer init failed")
	}

	// deps
	catalog := app.NewPropertyService(stores.Catalog, cache, cfg.CacheTTL)
	engine := app.NewNegotiationEngine(catalog, app.NewRateResolver(stores.Discounts))
	payments := app.NewPaymentService(stores.Payments)
	confirmations := app.ConfirmBooking(mail, cfg.SMTPTimeout)
	payments.OnPaid(confirmations.Hook)
	gateway := app.NewGateway(provider, payments, cfg.PaystackSecret)
	checkout := app.NewCheckoutService(catalog, engine, payments, provider, cfg.CallbackURL)
	accounts := app.NewAccountService(stores.Users, app.NewTokenService(cfg.TokenSecret), mail, app.AccountOptions{
		PublicBaseURL: cfg.PublicBaseURL,
		ActivationTTL: cfg.ActivationTTL,
		ResetTTL:      cfg.ResetTTL,
	})

	limiter := server.NewRateLimiter(12, 5*time.Second)
	defer limiter.Stop()

	// http
	srv := server.New(server.Options{AllowedOrigins: cfg.AllowedOrigins})
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Engine:    engine,
		Payments:  payments,
		Gateway:   gateway,
		Checkout:  checkout,
		Accounts:  accounts,
		Discounts: discounts,
		AdminKey:  cfg.AdminKey,
		Limiter:   limiter,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", stores.Driver).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		if err := httpSrv.Shutdown(sctx); err != nil {
			return err
		}
		confirmations.Wait()
		return shutdownTracing(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}
}

// seed loads the optional YAML rate table and property catalog.
func seed(ctx context.Context, cfg shared.Config, stores *storage.Stores, discounts *app.DiscountAdmin, cache domain.Cache) error {
	if cfg.DiscountsFile != "" {
		dc, err := app.LoadDiscountsFile(cfg.DiscountsFile)
		if err != nil {
			return err
		}
		applied, err := discounts.SeedDiscounts(ctx, dc)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.DiscountsFile).Bool("applied", applied).Msg("discount seed")
	}
	if cfg.PropertiesFile != "" {
		ps, err := app.LoadPropertiesFile(cfg.PropertiesFile)
		if err != nil {
			return err
		}
		n, err := app.ImportProperties(ctx, stores.Writer, cache, ps)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.PropertiesFile).Int("count", n).Msg("properties imported")
	}
	return nil
}
