package checkout

import (
	"time"

	"coworking/internal/domain/billing"
	couponmod "coworking/internal/modules/coupon"
	"coworking/internal/modules/override"
	"coworking/internal/pkg/events"
)

type BookingInput struct {
	UserID         int64
	Email          string
	Role           string
	RequestID      string
	IdempotencyKey string
	RoomID         int64
	StartTime      time.Time
	EndTime        time.Time
	CouponCode     string
	UseCredits     bool
	Override       *override.Request
}

type CreditPurchaseInput struct {
	UserID         int64
	Email          string
	RequestID      string
	IdempotencyKey string
	CreditsAmount  int64
	CouponCode     string
}

type BookingResult struct {
	Booking    *billing.Booking        `json:"booking"`
	Payment    *billing.GatewayPayment `json:"payment,omitempty"`
	CouponMode couponmod.RecordMode    `json:"coupon_mode,omitempty"`
	Replayed   bool                    `json:"replayed"`
}

type CreditPurchaseResult struct {
	Purchase   *billing.CreditPurchase `json:"credit_purchase"`
	Payment    *billing.GatewayPayment `json:"payment,omitempty"`
	CouponMode couponmod.RecordMode    `json:"coupon_mode,omitempty"`
	Replayed   bool                    `json:"replayed"`
}

type CancelResult struct {
	ID               int64                   `json:"id"`
	AlreadyCancelled bool                    `json:"already_cancelled"`
	FinancialStatus  billing.FinancialStatus `json:"financial_status"`
	CouponRestored   string                  `json:"coupon_restored,omitempty"`
	CreditsReturned  int64                   `json:"credits_returned"`
	Events           []events.Event          `json:"-"`
}

type FinalizeBookingRequest struct {
	RoomID     int64             `json:"room_id" validate:"required,gt=0"`
	StartTime  time.Time         `json:"start_time" validate:"required"`
	EndTime    time.Time         `json:"end_time" validate:"required,gtfield=StartTime"`
	CouponCode string            `json:"coupon_code" validate:"max=64"`
	UseCredits bool              `json:"use_credits"`
	Override   *override.Request `json:"override"`
}

type FinalizeCreditPurchaseRequest struct {
	CreditsAmount int64  `json:"credits_amount" validate:"required,gt=0"`
	CouponCode    string `json:"coupon_code" validate:"max=64"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}
