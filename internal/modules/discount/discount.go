// Package discount computes what a customer owes after a coupon. It does no
// I/O and never fails.
package discount

import "coworking/internal/domain/coupon"

// GatewayMinimumCents is the smallest charge the payment gateway accepts.
const GatewayMinimumCents int64 = 100

type Result struct {
	FinalAmount    int64 `json:"final_amount"`
	DiscountAmount int64 `json:"discount_amount"`
	CouponApplied  bool  `json:"coupon_applied"`
}

// Apply returns the payable amount for amount cents under cfg. The discount
// is always derived from the clamped final amount, so
// FinalAmount+DiscountAmount == amount for every input.
func Apply(amount int64, cfg *coupon.Config) Result {
	if amount < 0 {
		amount = 0
	}
	if cfg == nil {
		return Result{FinalAmount: amount}
	}

	if cfg.DiscountType == coupon.DiscountPriceOverride {
		final := cfg.Value
		if final < 0 {
			final = 0
		}
		// An override coupon never raises the price.
		if final > amount {
			final = amount
		}
		return Result{FinalAmount: final, DiscountAmount: amount - final, CouponApplied: true}
	}

	raw := rawDiscount(amount, cfg)

	var floor int64
	if amount >= GatewayMinimumCents {
		floor = GatewayMinimumCents
	}

	final := amount - raw
	if final < floor {
		final = floor
	}
	if final > amount {
		final = amount
	}
	return Result{FinalAmount: final, DiscountAmount: amount - final, CouponApplied: true}
}

func rawDiscount(amount int64, cfg *coupon.Config) int64 {
	var d int64
	switch cfg.DiscountType {
	case coupon.DiscountFixed:
		d = cfg.Value
	case coupon.DiscountPercent:
		d = percentOf(amount, cfg.Value)
	}
	if d < 0 {
		return 0
	}
	return d
}

// percentOf rounds half away from zero.
func percentOf(amount, percent int64) int64 {
	p := amount * percent
	if p >= 0 {
		return (p + 50) / 100
	}
	return -((-p + 50) / 100)
}
