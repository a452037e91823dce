package billing

import (
	"errors"
	"fmt"
	"strings"
)

var ErrSnapshotInconsistent = errors.New("price audit snapshot is inconsistent")

// PriceAudit is written once, in the same transaction that creates the
// booking or credit purchase, and every refund decision reads from it.
type PriceAudit struct {
	GrossAmount    int64   `json:"gross_amount" gorm:"column:gross_amount;not null;default:0"`
	DiscountAmount int64   `json:"discount_amount" gorm:"column:discount_amount;not null;default:0"`
	NetAmount      int64   `json:"net_amount" gorm:"column:net_amount;not null;default:0"`
	CouponCode     *string `json:"coupon_code,omitempty" gorm:"column:coupon_code;type:varchar(64);index"`
	CreditsUsed    int64   `json:"credits_used" gorm:"column:credits_used;not null;default:0"`
	AmountPaid     int64   `json:"amount_paid" gorm:"column:amount_paid;not null;default:0"`
}

// NewPriceAudit derives net and amount paid from the inputs so both
// invariants hold by construction.
func NewPriceAudit(gross, discount int64, couponCode string, creditsUsed int64) (PriceAudit, error) {
	net := gross - discount
	paid := net - creditsUsed
	if paid < 0 {
		paid = 0
	}
	audit := PriceAudit{
		GrossAmount:    gross,
		DiscountAmount: discount,
		NetAmount:      net,
		CreditsUsed:    creditsUsed,
		AmountPaid:     paid,
	}
	if code := strings.TrimSpace(couponCode); code != "" {
		audit.CouponCode = &code
	}
	return audit, audit.Validate()
}

func (a PriceAudit) Validate() error {
	switch {
	case a.GrossAmount < 0 || a.DiscountAmount < 0 || a.NetAmount < 0:
		return fmt.Errorf("%w: negative amount gross=%d discount=%d net=%d", ErrSnapshotInconsistent, a.GrossAmount, a.DiscountAmount, a.NetAmount)
	case a.CreditsUsed < 0 || a.AmountPaid < 0:
		return fmt.Errorf("%w: negative split credits=%d paid=%d", ErrSnapshotInconsistent, a.CreditsUsed, a.AmountPaid)
	case a.GrossAmount != a.NetAmount+a.DiscountAmount:
		return fmt.Errorf("%w: gross=%d != net=%d + discount=%d", ErrSnapshotInconsistent, a.GrossAmount, a.NetAmount, a.DiscountAmount)
	case a.NetAmount != a.CreditsUsed+a.AmountPaid:
		return fmt.Errorf("%w: net=%d != credits=%d + paid=%d", ErrSnapshotInconsistent, a.NetAmount, a.CreditsUsed, a.AmountPaid)
	}
	return nil
}

func (a PriceAudit) Coupon() string {
	if a.CouponCode == nil {
		return ""
	}
	return *a.CouponCode
}
