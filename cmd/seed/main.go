package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/clause"

	"coworking/internal/config"
	"coworking/internal/database"
	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	"coworking/internal/pkg/jwt"
	"coworking/internal/pkg/logger"
)

const (
	demoAdminID  int64 = 1
	demoClientID int64 = 2
)

func main() {
	webhookToken := flag.String("webhook-token", "", "print the bcrypt hash for WEBHOOK_TOKEN_HASH and exit")
	reset := flag.Bool("reset", false, "delete billing data before seeding")
	flag.Parse()

	if *webhookToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*webhookToken), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Msg("hash webhook token")
		}
		fmt.Println(string(hash))
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	lg := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.AppEnv})
	if cfg.IsProduction() {
		lg.Fatal().Msg("refusing to seed a production database")
	}

	db, err := database.Connect(cfg.DatabaseURL, lg)
	if err != nil {
		lg.Fatal().Err(err).Msg("DB connection failed")
	}
	if err := database.Migrate(db); err != nil {
		lg.Fatal().Err(err).Msg("AutoMigrate failed")
	}

	if *reset {
		lg.Info().Msg("cleaning old data")
		for _, table := range []string{"refunds", "gateway_payments", "coupon_usages", "bookings", "credit_purchases", "credit_transactions", "credit_wallets", "coupons", "rooms"} {
			if err := db.Exec("DELETE FROM " + table).Error; err != nil {
				lg.Fatal().Err(err).Str("table", table).Msg("cleanup failed")
			}
		}
	}

	rooms := []billing.Room{
		{ID: 1, Name: "Focus room", PricePerHourCents: 10000, IsActive: true},
		{ID: 2, Name: "Phone booth", PricePerHourCents: 4000, IsActive: true},
		{ID: 3, Name: "Boardroom", PricePerHourCents: 25000, IsActive: true},
		{ID: 4, Name: "Old lounge", PricePerHourCents: 8000, IsActive: false},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rooms).Error; err != nil {
		lg.Fatal().Err(err).Msg("seed rooms failed")
	}

	minBoardroom := int64(20000)
	maxUses := int64(100)
	coupons := []coupon.Coupon{
		{Code: "SEMPRE5", DiscountType: coupon.DiscountPercent, Value: 5, Description: "5% off, every time", SingleUsePerUser: false, IsActive: true},
		{Code: "INAUGURA30", DiscountType: coupon.DiscountFixed, Value: 3000, Description: "30 off the boardroom", SingleUsePerUser: true, MinAmountCents: &minBoardroom, MaxUses: &maxUses, IsActive: true},
		{Code: "EQUIPE", DiscountType: coupon.DiscountPriceOverride, Value: 500, Description: "staff rate", SingleUsePerUser: true, IsActive: true},
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&coupons).Error; err != nil {
		lg.Fatal().Err(err).Msg("seed coupons failed")
	}

	ctx := context.Background()
	wallets := wallet.NewService(db)
	balance, err := wallets.Balance(ctx, nil, demoClientID)
	if err != nil {
		lg.Fatal().Err(err).Msg("read demo wallet failed")
	}
	if balance == 0 {
		if _, _, err := wallets.Grant(ctx, demoClientID, 5000, wallet.Ref{EntityType: "seed", Description: "demo credits"}); err != nil {
			lg.Fatal().Err(err).Msg("grant demo credits failed")
		}
	}

	tokens := jwt.New(cfg.JWTSecret, cfg.JWTTTL)
	adminToken, err := tokens.GenerateToken(demoAdminID, "admin", "admin@coworking.local")
	if err != nil {
		lg.Fatal().Err(err).Msg("issue admin token failed")
	}
	clientToken, err := tokens.GenerateToken(demoClientID, "client", "client@coworking.local")
	if err != nil {
		lg.Fatal().Err(err).Msg("issue client token failed")
	}

	lg.Info().Int("rooms", len(rooms)).Int("coupons", len(coupons)).Msg("seed completed")
	fmt.Println("Admin token (user 1):", adminToken)
	fmt.Println("Client token (user 2, 5000 credits):", clientToken)
}
