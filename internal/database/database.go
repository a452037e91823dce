package database

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
)

// Connect opens postgres for postgres:// DSNs and sqlite for anything else.
func Connect(dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		logger.Info().Msg("connecting to PostgreSQL")
		return gorm.Open(postgres.Open(dsn), cfg)
	}

	logger.Info().Str("dsn", dsn).Msg("using SQLite for local development")
	return gorm.Open(
		gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		}),
		cfg,
	)
}

// Migrate creates or updates every billing table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&billing.Room{},
		&billing.Booking{},
		&billing.CreditPurchase{},
		&billing.GatewayPayment{},
		&billing.Refund{},
		&coupon.Coupon{},
		&coupon.Usage{},
		&wallet.Wallet{},
		&wallet.Transaction{},
	)
}
