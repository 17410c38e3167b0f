package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"stayhub/internal/adapters/mailer"
	"stayhub/internal/adapters/observability"
	"stayhub/internal/adapters/paystack"
	"stayhub/internal/app"
	"stayhub/internal/shared"
	"stayhub/internal/storage"
)

func main() {
	ctx := context.Background()
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	log.Info().
		Str("store", cfg.StoreDriver).
		Int("workers", cfg.Workers).
		Dur("stale_after", cfg.StaleAfter).
		Int("limit", cfg.SweepLimit).
		Msg("reconciler starting")

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	defer stores.Close()
	if stores.Payments == nil {
		log.Fatal().Str("store", cfg.StoreDriver).Msg("reconciler needs a payment store")
	}

	client, err := paystack.New(paystack.Options{
		BaseURL: cfg.PaystackBase,
		Secret:  cfg.PaystackSecret,
		Timeout: cfg.PaystackTimeout,
		RPS:     cfg.PaystackRPS,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Paystack client")
	}

	mail, err := mailer.FromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mailer")
	}
	payments := app.NewPaymentService(stores.Payments)
	confirmations := app.ConfirmBooking(mail, cfg.SMTPTimeout)
	payments.OnPaid(confirmations.Hook)
	gw := app.NewGateway(client, payments, cfg.PaystackSecret)

	cutoff := time.Now().UTC().Add(-cfg.StaleAfter)
	rep, err := gw.SweepStale(ctx, cutoff, cfg.SweepLimit, cfg.Workers)
	confirmations.Wait()
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}
	log.Info().
		Int("checked", rep.Checked).
		Int("settled", rep.Settled).
		Int("failed", rep.Failed).
		Msg("reconciliation completed")
}
