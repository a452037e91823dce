package coupon

import "time"

type QuoteRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gte=0"`
	CouponCode  string `json:"coupon_code" validate:"required,max=64"`
}

type CreateCouponRequest struct {
	Code             string     `json:"code" validate:"required,coupon_code"`
	DiscountType     string     `json:"discount_type" validate:"required,oneof=fixed percent price_override"`
	Value            int64      `json:"value" validate:"gte=0"`
	Description      string     `json:"description" validate:"max=500"`
	SingleUsePerUser *bool      `json:"single_use_per_user"`
	IsDevCoupon      bool       `json:"is_dev_coupon"`
	MinAmountCents   *int64     `json:"min_amount_cents" validate:"omitempty,gte=0"`
	ValidFrom        *time.Time `json:"valid_from"`
	ValidUntil       *time.Time `json:"valid_until"`
	MaxUses          *int64     `json:"max_uses" validate:"omitempty,gt=0"`
}
