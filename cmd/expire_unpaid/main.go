package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"coworking/internal/config"
	"coworking/internal/database"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	"coworking/internal/modules/checkout"
	couponmod "coworking/internal/modules/coupon"
	"coworking/internal/modules/override"
	"coworking/internal/pkg/events"
	"coworking/internal/pkg/logger"
)

// expire_unpaid cancels bookings whose payment window has passed, giving
// back their coupons and credits. Meant to run from cron.
func main() {
	limit := flag.Int("limit", 500, "maximum bookings to expire in one run")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	lg := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.AppEnv})

	db, err := database.Connect(cfg.DatabaseURL, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("db connect failed")
	}

	var publisher events.Publisher = events.LogPublisher{Logger: lg}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	dispatcher := events.NewDispatcher(publisher, lg, 5*time.Second)

	policy := cfg.Coupons()
	coupons := coupon.NewRepository(db)
	registry := couponmod.NewRegistry(policy.Enabled, lg,
		couponmod.NewStoreResolver(coupons),
		couponmod.NewFallbackResolver(couponmod.DefaultFallbackTable()))
	svc := checkout.NewService(checkout.Deps{
		DB:       db,
		Registry: registry,
		Ledger:   couponmod.NewLedger(coupons, registry, couponmod.NewDevGate(policy.Production, policy.DevCouponsUnrestricted, policy.DevAdminEmails), lg),
		Wallet:   wallet.NewService(db),
		Gate:     override.NewGate(cfg.Overrides().AdminEmails, lg),
		Events:   dispatcher,
		Logger:   lg,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	expired, err := svc.ExpireUnpaid(ctx, cfg.UnpaidBookingTTL, *limit)
	if closeErr := dispatcher.Close(); closeErr != nil {
		lg.Error().Err(closeErr).Msg("failed to flush billing events")
	}
	if err != nil {
		lg.Fatal().Err(err).Msg("expire unpaid bookings failed")
	}
	lg.Info().Int("expired", expired).Dur("older_than", cfg.UnpaidBookingTTL).Msg("unpaid booking sweep completed")
}
