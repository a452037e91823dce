package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coworking/internal/database"
	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	"coworking/internal/modules/checkout"
	couponmod "coworking/internal/modules/coupon"
	"coworking/internal/modules/override"
	"coworking/internal/pkg/dedup"
	"coworking/internal/pkg/events"
)

const clientUserID int64 = 7

var slotStart = time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	checkout *checkout.Service
	svc      *Service
	wallet   *wallet.Service
	repo     *billing.Repository
	coupons  *coupon.Repository
	events   *events.Recorder
	disp     *events.Dispatcher
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_test_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newFixture(t *testing.T, guard *dedup.Guard) *fixture {
	t.Helper()
	db := setupTestDB(t)
	require.NoError(t, db.Create(&billing.Room{ID: 1, Name: "Focus room", PricePerHourCents: 10000, IsActive: true}).Error)

	coupons := coupon.NewRepository(db)
	registry := couponmod.NewRegistry(true, zerolog.Nop(),
		couponmod.NewStoreResolver(coupons),
		couponmod.NewFallbackResolver(couponmod.DefaultFallbackTable()))
	ledger := couponmod.NewLedger(coupons, registry, couponmod.NewDevGate(false, false, nil), zerolog.Nop())
	walletSvc := wallet.NewService(db)
	rec := &events.Recorder{}
	disp := events.NewDispatcher(rec, zerolog.Nop(), time.Second)

	co := checkout.NewService(checkout.Deps{
		DB:       db,
		Registry: registry,
		Ledger:   ledger,
		Wallet:   walletSvc,
		Gate:     override.NewGate(nil, zerolog.Nop()),
		Events:   disp,
		Logger:   zerolog.Nop(),
	})
	svc := NewService(Deps{
		DB:     db,
		Wallet: walletSvc,
		Owners: co,
		Guard:  guard,
		Events: disp,
		Logger: zerolog.Nop(),
	})
	return &fixture{db: db, checkout: co, svc: svc, wallet: walletSvc, repo: billing.NewRepository(db), coupons: coupons, events: rec, disp: disp}
}

// book creates a one hour booking with the 15% welcome coupon, paying
// with credits first: 10000 gross, 8500 net.
func (f *fixture) book(t *testing.T, credits int64) *checkout.BookingResult {
	t.Helper()
	ctx := context.Background()
	if credits > 0 {
		_, _, err := f.wallet.Grant(ctx, clientUserID, credits, wallet.Ref{Description: "test top-up"})
		require.NoError(t, err)
	}
	res, err := f.checkout.FinalizeBooking(ctx, checkout.BookingInput{
		UserID:         clientUserID,
		Email:          "client@example.com",
		IdempotencyKey: "booking-1",
		RoomID:         1,
		StartTime:      slotStart,
		EndTime:        slotStart.Add(time.Hour),
		CouponCode:     "PRIMEIRACOMPRA",
		UseCredits:     credits > 0,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	return res
}

func (f *fixture) deliver(t *testing.T, p WebhookPayload) *WebhookResult {
	t.Helper()
	res, err := f.svc.HandleWebhook(context.Background(), p, "{}")
	require.NoError(t, err)
	return res
}

func (f *fixture) booking(t *testing.T, id int64) *billing.Booking {
	t.Helper()
	b, err := f.repo.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) payment(t *testing.T, id int64) *billing.GatewayPayment {
	t.Helper()
	var p billing.GatewayPayment
	require.NoError(t, f.db.First(&p, id).Error)
	return &p
}

func (f *fixture) refundFor(t *testing.T, paymentID int64) *billing.Refund {
	t.Helper()
	var rf billing.Refund
	require.NoError(t, f.db.Where("payment_id = ?", paymentID).First(&rf).Error)
	return &rf
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.wallet.Balance(context.Background(), nil, clientUserID)
	require.NoError(t, err)
	return b
}

func (f *fixture) flushEvents(t *testing.T) []events.Type {
	t.Helper()
	require.NoError(t, f.disp.Close())
	return f.events.Types()
}

func notice(event, reference string) WebhookPayload {
	return WebhookPayload{
		ID:      "evt_" + event,
		Event:   event,
		Payment: PaymentData{ID: "pay_" + reference, ExternalReference: reference},
	}
}

func refundNotice(reference string, refunded int64) WebhookPayload {
	p := notice(EventPaymentRefunded, reference)
	p.Payment.RefundedValue = amount(refunded)
	return p
}

func amount(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

type memoryRedis struct {
	keys map[string]any
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{keys: make(map[string]any)}
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	if _, ok := m.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.keys[key] = value
	return redis.NewBoolResult(true, nil)
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.keys[k]; ok {
			delete(m.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
