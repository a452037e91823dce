package wallet

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:wallet_test_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Wallet{}, &Transaction{}))
	return db
}

func setupTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(setupTestDB(t))
}

func TestGetOrCreateWalletCreatesOnFirstRequest(t *testing.T) {
	svc := setupTestService(t)

	wallet, err := svc.GetOrCreateWallet(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.Balance)

	again, err := svc.GetOrCreateWallet(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)
}

func TestGrantSpendAndRefundFlow(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	wallet, addTxn, err := svc.Grant(ctx, 101, 5000, Ref{EntityType: "admin_grant", EntityID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), wallet.Balance)
	assert.Equal(t, TransactionTypeAdd, addTxn.Type)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		w, spend, err := svc.SpendTx(ctx, tx, 101, 3000, Ref{EntityType: "booking", EntityID: 7})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2000), w.Balance)
		assert.Equal(t, TransactionTypeSpend, spend.Type)
		return nil
	})
	require.NoError(t, err)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		_, refund, err := svc.CreditTx(ctx, tx, 101, 3000, TransactionTypeRefund, Ref{EntityType: "booking", EntityID: 7})
		if err != nil {
			return err
		}
		assert.Equal(t, TransactionTypeRefund, refund.Type)
		return nil
	})
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, nil, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	restored, err := svc.SumEntriesTx(ctx, nil, "booking", 7, TransactionTypeRefund)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), restored)

	txns, err := svc.ListTransactions(ctx, 101)
	require.NoError(t, err)
	assert.Len(t, txns, 3)
}

func TestBalanceWithoutWalletIsZero(t *testing.T) {
	svc := setupTestService(t)

	balance, err := svc.Balance(context.Background(), nil, 555)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestListTransactionsCreatesEmptyWallet(t *testing.T) {
	svc := setupTestService(t)

	txns, err := svc.ListTransactions(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestGrantRejectsNonPositiveAmount(t *testing.T) {
	svc := setupTestService(t)
	_, _, err := svc.Grant(context.Background(), 102, 0, Ref{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSpendRejectsNonPositiveAmount(t *testing.T) {
	svc := setupTestService(t)
	_, _, err := svc.SpendTx(context.Background(), svc.db, 103, -1, Ref{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSpendInsufficientFundsRollsBack(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	_, _, err := svc.Grant(ctx, 104, 5, Ref{})
	require.NoError(t, err)

	err = svc.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := svc.SpendTx(ctx, tx, 104, 10, Ref{EntityType: "booking", EntityID: 1})
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := svc.Balance(ctx, nil, 104)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestCreditTxAfterConcurrentWalletCreate(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		// Another request created the wallet first.
		require.NoError(t, tx.Create(&Wallet{UserID: 77, Balance: 300}).Error)
		require.NoError(t, ensureWallet(tx, 77))

		w, _, err := svc.CreditTx(ctx, tx, 77, 200, TransactionTypeAdd, Ref{EntityType: "admin_grant"})
		require.NoError(t, err)
		assert.Equal(t, int64(500), w.Balance)
		return nil
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, svc.db.Model(&Wallet{}).Where("user_id = ?", 77).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := svc.Balance(ctx, nil, 77)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestCreditTxCreatesMissingWallet(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()

	err := svc.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := svc.CreditTx(ctx, tx, 78, 150, TransactionTypeRefund, Ref{EntityType: "booking", EntityID: 4})
		return err
	})
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, nil, 78)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)
}
