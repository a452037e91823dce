package payment

import (
	"context"

	"gorm.io/gorm"

	"coworking/internal/domain/wallet"
	"coworking/internal/modules/checkout"
)

type ownerCanceller interface {
	CancelBookingTx(ctx context.Context, tx *gorm.DB, actor checkout.Actor, bookingID int64, reason string) (*checkout.CancelResult, error)
	CancelCreditPurchaseTx(ctx context.Context, tx *gorm.DB, actor checkout.Actor, purchaseID int64, reason string) (*checkout.CancelResult, error)
}

type creditWriter interface {
	CreditTx(ctx context.Context, tx *gorm.DB, userID int64, amount int64, txType string, ref wallet.Ref) (*wallet.Wallet, *wallet.Transaction, error)
	SumEntriesTx(ctx context.Context, tx *gorm.DB, entityType string, entityID int64, txType string) (int64, error)
}
