package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"coworking/internal/config"
	"coworking/internal/database"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	"coworking/internal/middleware"
	"coworking/internal/modules/checkout"
	couponmod "coworking/internal/modules/coupon"
	"coworking/internal/modules/override"
	"coworking/internal/modules/payment"
	"coworking/internal/pkg/dedup"
	"coworking/internal/pkg/events"
	"coworking/internal/pkg/jwt"
	"coworking/internal/pkg/logger"
	"coworking/internal/pkg/response"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	lg := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.AppEnv})
	lg.Info().Str("env", cfg.AppEnv).Str("addr", cfg.HTTPAddr).Msg("starting coworking billing API")

	db, err := database.Connect(cfg.DatabaseURL, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		lg.Fatal().Err(err).Msg("failed to migrate database")
	}

	rdb, err := database.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, lg)
	if err != nil {
		lg.Warn().Err(err).Msg("Redis unavailable, webhook dedup relies on the database only")
	}
	defer database.CloseRedis(rdb, lg)
	var dedupClient dedup.Client
	if rdb != nil {
		dedupClient = rdb
	}

	dispatcher := events.NewDispatcher(newPublisher(cfg, lg), lg, 5*time.Second)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			lg.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	svc := buildServices(cfg, db, dedupClient, dispatcher, lg)
	r := newRouter(cfg, svc, lg)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("server forced to shutdown")
	}
	lg.Info().Msg("server exited")
}

func newPublisher(cfg *config.Config, lg zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		lg.Warn().Msg("KAFKA_BROKERS not configured, billing events are only logged")
		return events.LogPublisher{Logger: lg}
	}
	lg.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing billing events to Kafka")
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

type services struct {
	jwt      *jwt.Service
	wallet   *wallet.Service
	coupons  *coupon.Repository
	registry *couponmod.Registry
	ledger   *couponmod.Ledger
	checkout *checkout.Service
	payments *payment.Service
}

func buildServices(cfg *config.Config, db *gorm.DB, dedupClient dedup.Client, dispatcher *events.Dispatcher, lg zerolog.Logger) *services {
	policy := cfg.Coupons()
	coupons := coupon.NewRepository(db)
	registry := couponmod.NewRegistry(policy.Enabled, lg,
		couponmod.NewStoreResolver(coupons),
		couponmod.NewFallbackResolver(couponmod.DefaultFallbackTable()))
	devGate := couponmod.NewDevGate(policy.Production, policy.DevCouponsUnrestricted, policy.DevAdminEmails)
	ledger := couponmod.NewLedger(coupons, registry, devGate, lg)
	walletSvc := wallet.NewService(db)

	checkoutSvc := checkout.NewService(checkout.Deps{
		DB:       db,
		Registry: registry,
		Ledger:   ledger,
		Wallet:   walletSvc,
		Gate:     override.NewGate(cfg.Overrides().AdminEmails, lg),
		Events:   dispatcher,
		Logger:   lg,
	})
	paymentSvc := payment.NewService(payment.Deps{
		DB:     db,
		Wallet: walletSvc,
		Owners: checkoutSvc,
		Guard:  dedup.NewGuard(dedupClient, cfg.WebhookDedupTTL, lg),
		Events: dispatcher,
		Logger: lg,
	})

	return &services{
		jwt:      jwt.New(cfg.JWTSecret, cfg.JWTTTL),
		wallet:   walletSvc,
		coupons:  coupons,
		registry: registry,
		ledger:   ledger,
		checkout: checkoutSvc,
		payments: paymentSvc,
	}
}

func newRouter(cfg *config.Config, s *services, lg zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(lg), middleware.RequestLogger(lg), middleware.CORS(cfg.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	couponHandler := couponmod.NewHandler(s.registry, s.ledger, s.coupons)
	checkoutHandler := checkout.NewHandler(s.checkout)
	walletHandler := wallet.NewHandler(s.wallet)
	paymentHandler := payment.NewHandler(s.payments, lg)

	v1 := r.Group("/api/v1")
	{
		gateway := v1.Group("")
		gateway.Use(middleware.WebhookToken(cfg.WebhookTokenHash, lg))
		paymentHandler.RegisterWebhookRoutes(gateway)

		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(s.jwt))
		couponHandler.RegisterRoutes(protected)
		checkoutHandler.RegisterRoutes(protected)
		walletHandler.RegisterRoutes(protected)

		admin := protected.Group("/admin")
		admin.Use(middleware.AdminOnly())
		couponHandler.RegisterAdminRoutes(admin)
		walletHandler.RegisterAdminRoutes(admin)
		paymentHandler.RegisterAdminRoutes(admin)
	}
	return r
}
