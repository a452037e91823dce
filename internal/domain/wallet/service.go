package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coworking/internal/pkg/dberr"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient balance")
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetOrCreateWallet(ctx context.Context, userID int64) (*Wallet, error) {
	wallet, err := s.getWalletByUserID(ctx, s.db, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wallet = &Wallet{UserID: userID, Balance: 0}
	if err := s.db.WithContext(ctx).Create(wallet).Error; err != nil {
		if dberr.IsUniqueViolation(err) {
			return s.getWalletByUserID(ctx, s.db, userID)
		}
		return nil, err
	}
	return wallet, nil
}

// Balance reads the balance without creating a wallet. Pass a transaction
// to read inside it.
func (s *Service) Balance(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	wallet, err := s.getWalletByUserID(ctx, tx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

// Grant tops up a wallet in its own transaction.
func (s *Service) Grant(ctx context.Context, userID int64, amount int64, ref Ref) (*Wallet, *Transaction, error) {
	var wallet *Wallet
	var txn *Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		wallet, txn, err = s.CreditTx(ctx, tx, userID, amount, TransactionTypeAdd, ref)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return wallet, txn, nil
}

// CreditTx adds to the balance inside the caller's transaction. txType is
// ADD for purchases and grants, REFUND for restored credits.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, userID int64, amount int64, txType string, ref Ref) (*Wallet, *Transaction, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	var wallet Wallet
	if err := getOrCreateWalletForUpdate(tx.WithContext(ctx), userID, &wallet); err != nil {
		return nil, nil, err
	}

	wallet.Balance += amount
	if err := tx.WithContext(ctx).Model(&Wallet{}).Where("id = ?", wallet.ID).Update("balance", wallet.Balance).Error; err != nil {
		return nil, nil, err
	}

	txn := newTransaction(wallet.ID, amount, txType, ref)
	if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, nil, err
	}
	return &wallet, &txn, nil
}

// SpendTx debits the balance inside the caller's transaction.
func (s *Service) SpendTx(ctx context.Context, tx *gorm.DB, userID int64, amount int64, ref Ref) (*Wallet, *Transaction, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	var wallet Wallet
	if err := getOrCreateWalletForUpdate(tx.WithContext(ctx), userID, &wallet); err != nil {
		return nil, nil, err
	}

	if wallet.Balance < amount {
		return nil, nil, ErrInsufficientFunds
	}

	wallet.Balance -= amount
	if err := tx.WithContext(ctx).Model(&Wallet{}).Where("id = ?", wallet.ID).Update("balance", wallet.Balance).Error; err != nil {
		return nil, nil, err
	}

	txn := newTransaction(wallet.ID, amount, TransactionTypeSpend, ref)
	if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
		return nil, nil, err
	}
	return &wallet, &txn, nil
}

// SumEntriesTx totals the movements of one type recorded against an entity.
// Callers use it to make grants and restorations idempotent.
func (s *Service) SumEntriesTx(ctx context.Context, tx *gorm.DB, entityType string, entityID int64, txType string) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	var total int64
	err := tx.WithContext(ctx).
		Model(&Transaction{}).
		Where("related_entity_type = ? AND related_entity_id = ? AND type = ?", entityType, entityID, txType).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Service) ListTransactions(ctx context.Context, userID int64) ([]Transaction, error) {
	wallet, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var txns []Transaction
	if err := s.db.WithContext(ctx).Where("wallet_id = ?", wallet.ID).Order("created_at desc").Find(&txns).Error; err != nil {
		return nil, err
	}

	return txns, nil
}

func (s *Service) getWalletByUserID(ctx context.Context, db *gorm.DB, userID int64) (*Wallet, error) {
	var wallet Wallet
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func newTransaction(walletID uuid.UUID, amount int64, txType string, ref Ref) Transaction {
	return Transaction{
		WalletID:          walletID,
		Amount:            amount,
		Type:              txType,
		RelatedEntityType: ref.EntityType,
		RelatedEntityID:   ref.EntityID,
		Description:       ref.Description,
	}
}

func getOrCreateWalletForUpdate(tx *gorm.DB, userID int64, wallet *Wallet) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(wallet).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err := ensureWallet(tx, userID); err != nil {
		return err
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(wallet).Error
}

// ensureWallet inserts an empty wallet unless one exists. A concurrent
// creator makes the insert a no-op instead of a unique violation, which on
// postgres would leave tx unusable.
func ensureWallet(tx *gorm.DB, userID int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&Wallet{UserID: userID}).Error
}
