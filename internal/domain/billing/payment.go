package billing

import "time"

type OwnerType string

const (
	OwnerBooking        OwnerType = "booking"
	OwnerCreditPurchase OwnerType = "credit_purchase"
)

type PaymentStatus string

const (
	PaymentCreated           PaymentStatus = "created"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
)

// GatewayPayment is the local record of a charge sent to the payment
// gateway. Reference travels to the gateway as externalReference; the
// gateway's own id is bound on the first notification that carries it.
type GatewayPayment struct {
	ID               int64         `json:"id" gorm:"primaryKey"`
	Reference        string        `json:"reference" gorm:"type:varchar(64);not null;uniqueIndex"`
	GatewayPaymentID *string       `json:"gateway_payment_id,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	OwnerType        OwnerType     `json:"owner_type" gorm:"type:varchar(20);not null;index:idx_gateway_payments_owner"`
	OwnerID          int64         `json:"owner_id" gorm:"not null;index:idx_gateway_payments_owner"`
	UserID           int64         `json:"user_id" gorm:"not null;index"`
	AmountCents      int64         `json:"amount_cents" gorm:"not null"`
	Status           PaymentStatus `json:"status" gorm:"type:varchar(24);not null;default:'created';index"`
	LastEvent        string        `json:"last_event,omitempty" gorm:"type:varchar(64)"`
	LastRawBody      string        `json:"-" gorm:"type:text"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (GatewayPayment) TableName() string { return "gateway_payments" }

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
)

type ReviewStatus string

const (
	ReviewNone    ReviewStatus = "none"
	ReviewPending ReviewStatus = "pending_review"
)

// Refund holds the latest reconciliation of one gateway payment. There is
// at most one per payment; later notifications update it in place.
type Refund struct {
	ID              int64        `json:"id" gorm:"primaryKey"`
	PaymentID       int64        `json:"payment_id" gorm:"not null;uniqueIndex"`
	OwnerType       OwnerType    `json:"owner_type" gorm:"type:varchar(20);not null"`
	OwnerID         int64        `json:"owner_id" gorm:"not null;index"`
	UserID          int64        `json:"user_id" gorm:"not null;index"`
	ExpectedAmount  int64        `json:"expected_amount" gorm:"not null"`
	RefundedAmount  int64        `json:"refunded_amount" gorm:"not null"`
	AmountUnknown   bool         `json:"amount_unknown" gorm:"not null;default:false"`
	IsPartial       bool         `json:"is_partial" gorm:"not null;default:false"`
	CreditsRestored int64        `json:"credits_restored" gorm:"not null;default:0"`
	MoneyReturned   int64        `json:"money_returned" gorm:"not null;default:0"`
	Status          RefundStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	ReviewStatus    ReviewStatus `json:"review_status" gorm:"type:varchar(20);not null;default:'none';index"`
	ReviewReason    string       `json:"review_reason,omitempty" gorm:"type:text"`
	LastEvent       string       `json:"last_event" gorm:"type:varchar(64)"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Refund) TableName() string { return "refunds" }
