package coupon

import (
	"strings"
	"time"
)

type DiscountType string

const (
	DiscountFixed         DiscountType = "fixed"
	DiscountPercent       DiscountType = "percent"
	DiscountPriceOverride DiscountType = "price_override"
)

func (t DiscountType) Valid() bool {
	switch t {
	case DiscountFixed, DiscountPercent, DiscountPriceOverride:
		return true
	}
	return false
}

type UsageContext string

const (
	ContextBooking        UsageContext = "booking"
	ContextCreditPurchase UsageContext = "credit_purchase"
)

func (c UsageContext) Valid() bool {
	return c == ContextBooking || c == ContextCreditPurchase
}

type UsageStatus string

const (
	UsageUsed     UsageStatus = "used"
	UsageRestored UsageStatus = "restored"
)

type Source string

const (
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
)

// Config is the resolved effect of a coupon for one transaction.
type Config struct {
	Code             string       `json:"code"`
	DiscountType     DiscountType `json:"discount_type"`
	Value            int64        `json:"value"`
	Description      string       `json:"description"`
	SingleUsePerUser bool         `json:"single_use_per_user"`
	IsDevCoupon      bool         `json:"is_dev_coupon"`
	MinAmountCents   *int64       `json:"min_amount_cents,omitempty"`
	Source           Source       `json:"source"`
}

// Coupon is a persisted coupon definition. The store is authoritative over
// the built-in table.
type Coupon struct {
	ID               int64        `json:"id" gorm:"primaryKey"`
	Code             string       `json:"code" gorm:"type:varchar(64);not null;uniqueIndex"`
	DiscountType     DiscountType `json:"discount_type" gorm:"type:varchar(20);not null"`
	Value            int64        `json:"value" gorm:"not null"`
	Description      string       `json:"description" gorm:"type:text"`
	SingleUsePerUser bool         `json:"single_use_per_user" gorm:"not null"`
	IsDevCoupon      bool         `json:"is_dev_coupon" gorm:"not null;default:false"`
	MinAmountCents   *int64       `json:"min_amount_cents,omitempty"`
	IsActive         bool         `json:"is_active" gorm:"not null"`
	ValidFrom        *time.Time   `json:"valid_from,omitempty"`
	ValidUntil       *time.Time   `json:"valid_until,omitempty"`
	MaxUses          *int64       `json:"max_uses,omitempty"`
	CurrentUses      int64        `json:"current_uses" gorm:"not null;default:0"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Coupon) TableName() string { return "coupons" }

// UsableAt reports whether the coupon is active, inside its window and
// below its global cap at the given instant.
func (c *Coupon) UsableAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return false
	}
	return true
}

func (c *Coupon) Config() *Config {
	return &Config{
		Code:             c.Code,
		DiscountType:     c.DiscountType,
		Value:            c.Value,
		Description:      c.Description,
		SingleUsePerUser: c.SingleUsePerUser,
		IsDevCoupon:      c.IsDevCoupon,
		MinAmountCents:   c.MinAmountCents,
		Source:           SourceStore,
	}
}

// Usage tracks one (user, coupon, context) consumption. Restored rows are
// detached from their booking/credit and free to be claimed again.
type Usage struct {
	ID         int64        `json:"id" gorm:"primaryKey"`
	UserID     int64        `json:"user_id" gorm:"not null;uniqueIndex:idx_coupon_usages_user_code_context"`
	CouponCode string       `json:"coupon_code" gorm:"type:varchar(64);not null;uniqueIndex:idx_coupon_usages_user_code_context"`
	Context    UsageContext `json:"context" gorm:"type:varchar(20);not null;uniqueIndex:idx_coupon_usages_user_code_context"`
	Status     UsageStatus  `json:"status" gorm:"type:varchar(16);not null;index"`
	BookingID  *int64       `json:"booking_id,omitempty" gorm:"index"`
	CreditID   *int64       `json:"credit_id,omitempty" gorm:"index"`
	RestoredAt *time.Time   `json:"restored_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (Usage) TableName() string { return "coupon_usages" }

// Target identifies the booking or credit purchase a usage is attached to.
type Target struct {
	BookingID *int64
	CreditID  *int64
}

func BookingTarget(id int64) Target { return Target{BookingID: &id} }

func CreditTarget(id int64) Target { return Target{CreditID: &id} }

func (t Target) IsZero() bool { return t.BookingID == nil && t.CreditID == nil }

// Matches compares the target against the references stored on a usage row.
func (t Target) Matches(u *Usage) bool {
	return sameRef(t.BookingID, u.BookingID) && sameRef(t.CreditID, u.CreditID)
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// NormalizeCode upper-cases and trims a user-supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
