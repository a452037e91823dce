package coupon

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"coworking/internal/domain/coupon"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:coupon_test_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&coupon.Coupon{}, &coupon.Usage{}))
	return db
}

func newTestRegistry(repo *coupon.Repository) *Registry {
	return NewRegistry(true, zerolog.Nop(), NewStoreResolver(repo), NewFallbackResolver(DefaultFallbackTable()))
}

func newTestLedger(t *testing.T, gate *DevGate) (*Ledger, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	repo := coupon.NewRepository(db)
	if gate == nil {
		gate = NewDevGate(false, false, nil)
	}
	return NewLedger(repo, newTestRegistry(repo), gate, zerolog.Nop()), db
}
