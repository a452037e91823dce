package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coworking/internal/database"
	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	couponmod "coworking/internal/modules/coupon"
	"coworking/internal/modules/override"
	"coworking/internal/pkg/events"
)

const (
	testRoomRate   int64 = 10000
	adminEmail           = "ops@example.com"
	clientUserID   int64 = 7
	otherUserID    int64 = 8
	adminUserID    int64 = 1
	cheapRoomRate  int64 = 4000
	inactiveRoomID int64 = 3
)

var slotStart = time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	svc     *Service
	wallet  *wallet.Service
	repo    *billing.Repository
	coupons *coupon.Repository
	events  *events.Recorder
	disp    *events.Dispatcher
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:checkout_test_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)

	require.NoError(t, db.Create(&[]billing.Room{
		{ID: 1, Name: "Focus room", PricePerHourCents: testRoomRate, IsActive: true},
		{ID: 2, Name: "Phone booth", PricePerHourCents: cheapRoomRate, IsActive: true},
		{ID: inactiveRoomID, Name: "Closed room", PricePerHourCents: testRoomRate, IsActive: false},
	}).Error)

	coupons := coupon.NewRepository(db)
	registry := couponmod.NewRegistry(true, zerolog.Nop(),
		couponmod.NewStoreResolver(coupons),
		couponmod.NewFallbackResolver(couponmod.DefaultFallbackTable()))
	ledger := couponmod.NewLedger(coupons, registry, couponmod.NewDevGate(false, false, nil), zerolog.Nop())
	walletSvc := wallet.NewService(db)
	rec := &events.Recorder{}
	disp := events.NewDispatcher(rec, zerolog.Nop(), time.Second)

	svc := NewService(Deps{
		DB:       db,
		Registry: registry,
		Ledger:   ledger,
		Wallet:   walletSvc,
		Gate:     override.NewGate([]string{adminEmail}, zerolog.Nop()),
		Events:   disp,
		Logger:   zerolog.Nop(),
	})
	return &fixture{db: db, svc: svc, wallet: walletSvc, repo: billing.NewRepository(db), coupons: coupons, events: rec, disp: disp}
}

func (f *fixture) grant(t *testing.T, userID, amount int64) {
	t.Helper()
	_, _, err := f.wallet.Grant(context.Background(), userID, amount, wallet.Ref{Description: "test top-up"})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := f.wallet.Balance(context.Background(), nil, userID)
	require.NoError(t, err)
	return b
}

func (f *fixture) usage(t *testing.T, userID int64, code string, usageCtx coupon.UsageContext) *coupon.Usage {
	t.Helper()
	u, err := f.coupons.FindUsage(context.Background(), userID, code, usageCtx)
	require.NoError(t, err)
	return u
}

// flushEvents waits for dispatched events and returns their types.
func (f *fixture) flushEvents(t *testing.T) []events.Type {
	t.Helper()
	require.NoError(t, f.disp.Close())
	return f.events.Types()
}

func oneHourBooking(userID int64, key, code string) BookingInput {
	return BookingInput{
		UserID:         userID,
		Email:          "client@example.com",
		Role:           "client",
		IdempotencyKey: key,
		RoomID:         1,
		StartTime:      slotStart,
		EndTime:        slotStart.Add(time.Hour),
		CouponCode:     code,
	}
}

func int64Ptr(v int64) *int64 { return &v }
