package billing

import "time"

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

type FinancialStatus string

const (
	FinancialPendingPayment    FinancialStatus = "pending_payment"
	FinancialPaid              FinancialStatus = "paid"
	FinancialPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialRefunded          FinancialStatus = "refunded"
	FinancialCancelled         FinancialStatus = "cancelled"
)

// WasPaid reports whether money or credit was actually collected. Coupon
// restoration is gated on this and nothing else.
func (s FinancialStatus) WasPaid() bool {
	switch s {
	case FinancialPaid, FinancialPartiallyRefunded, FinancialRefunded:
		return true
	}
	return false
}

type PricingMode string

const (
	PricingNormal   PricingMode = "normal"
	PricingOverride PricingMode = "override"
)

type Booking struct {
	ID              int64           `json:"id" gorm:"primaryKey"`
	UserID          int64           `json:"user_id" gorm:"not null;index;uniqueIndex:idx_bookings_user_idempotency"`
	RoomID          int64           `json:"room_id" gorm:"not null;index"`
	IdempotencyKey  string          `json:"-" gorm:"type:varchar(64);not null;uniqueIndex:idx_bookings_user_idempotency"`
	StartTime       time.Time       `json:"start_time" gorm:"not null"`
	EndTime         time.Time       `json:"end_time" gorm:"not null"`
	Status          BookingStatus   `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	FinancialStatus FinancialStatus `json:"financial_status" gorm:"type:varchar(24);not null;default:'pending_payment';index"`

	PriceAudit `gorm:"embedded"`

	PricingMode        PricingMode `json:"pricing_mode" gorm:"type:varchar(16);not null;default:'normal'"`
	OverrideFinalCents *int64      `json:"override_final_cents,omitempty"`
	OverrideReason     string      `json:"override_reason,omitempty" gorm:"type:text"`
	OverrideByUserID   *int64      `json:"override_by_user_id,omitempty"`
	OverrideCreatedAt  *time.Time  `json:"override_created_at,omitempty"`

	NeedsReview  bool   `json:"needs_review" gorm:"not null;default:false"`
	ReviewReason string `json:"review_reason,omitempty" gorm:"type:text"`

	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

func (b *Booking) IsOverride() bool { return b.PricingMode == PricingOverride }

// CreditPurchase buys account credit. Credits are granted once the cash
// portion is confirmed, or immediately when nothing is owed.
type CreditPurchase struct {
	ID              int64           `json:"id" gorm:"primaryKey"`
	UserID          int64           `json:"user_id" gorm:"not null;index;uniqueIndex:idx_credit_purchases_user_idempotency"`
	IdempotencyKey  string          `json:"-" gorm:"type:varchar(64);not null;uniqueIndex:idx_credit_purchases_user_idempotency"`
	CreditsAmount   int64           `json:"credits_amount" gorm:"not null"`
	FinancialStatus FinancialStatus `json:"financial_status" gorm:"type:varchar(24);not null;default:'pending_payment';index"`

	PriceAudit `gorm:"embedded"`

	CreditsGrantedAt *time.Time `json:"credits_granted_at,omitempty"`
	NeedsReview      bool       `json:"needs_review" gorm:"not null;default:false"`
	ReviewReason     string     `json:"review_reason,omitempty" gorm:"type:text"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (CreditPurchase) TableName() string { return "credit_purchases" }

type Room struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	Name              string    `json:"name" gorm:"type:varchar(255);not null"`
	PricePerHourCents int64     `json:"price_per_hour_cents" gorm:"not null"`
	IsActive          bool      `json:"is_active" gorm:"not null"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Room) TableName() string { return "rooms" }

// PriceFor returns the gross price in cents for the slot, rounding partial
// hours to the nearest cent.
func (r *Room) PriceFor(start, end time.Time) int64 {
	minutes := int64(end.Sub(start) / time.Minute)
	if minutes <= 0 {
		return 0
	}
	return (minutes*r.PricePerHourCents + 30) / 60
}
