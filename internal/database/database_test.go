package database

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
)

func TestConnectAndMigrateSQLite(t *testing.T) {
	db, err := Connect("file:database_test?mode=memory&cache=shared", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, model := range []any{
		&billing.Room{}, &billing.Booking{}, &billing.CreditPurchase{},
		&billing.GatewayPayment{}, &billing.Refund{},
		&coupon.Coupon{}, &coupon.Usage{},
		&wallet.Wallet{}, &wallet.Transaction{},
	} {
		assert.True(t, db.Migrator().HasTable(model), "%T", model)
	}
	assert.True(t, db.Migrator().HasIndex(&coupon.Usage{}, "idx_coupon_usages_user_code_context"))
	assert.True(t, db.Migrator().HasIndex(&billing.Booking{}, "idx_bookings_user_idempotency"))

	// Migrate is safe to re-run.
	require.NoError(t, Migrate(db))
}
