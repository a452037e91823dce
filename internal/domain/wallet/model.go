package wallet

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TransactionTypeAdd    = "ADD"
	TransactionTypeSpend  = "SPEND"
	TransactionTypeRefund = "REFUND"
)

// Wallet stores a user's account credit in cents.
type Wallet struct {
	ID      uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID  int64     `json:"user_id" gorm:"not null;uniqueIndex"`
	Balance int64     `json:"balance" gorm:"not null;default:0"`
}

func (Wallet) TableName() string {
	return "credit_wallets"
}

func (w *Wallet) BeforeCreate(_ *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// Transaction records one balance movement and the entity that caused it.
type Transaction struct {
	ID                uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	WalletID          uuid.UUID `json:"wallet_id" gorm:"type:uuid;not null;index"`
	Amount            int64     `json:"amount" gorm:"not null"`
	Type              string    `json:"type" gorm:"type:varchar(16);not null;index;check:type IN ('ADD','SPEND','REFUND')"`
	RelatedEntityType string    `json:"related_entity_type,omitempty" gorm:"type:varchar(32);index:idx_credit_transactions_entity"`
	RelatedEntityID   int64     `json:"related_entity_id,omitempty" gorm:"index:idx_credit_transactions_entity"`
	Description       string    `json:"description,omitempty" gorm:"type:text"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`

	Wallet *Wallet `json:"-" gorm:"foreignKey:WalletID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (Transaction) TableName() string {
	return "credit_transactions"
}

func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Ref ties a movement to the booking or purchase that caused it.
type Ref struct {
	EntityType  string
	EntityID    int64
	Description string
}
