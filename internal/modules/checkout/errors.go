package checkout

import (
	"errors"

	"coworking/internal/domain/billing"
)

var (
	ErrBookingNotFound        = billing.NewError(billing.KindNotFound, "", "booking not found")
	ErrCreditPurchaseNotFound = billing.NewError(billing.KindNotFound, "", "credit purchase not found")
	ErrRoomNotFound           = billing.NewError(billing.KindNotFound, "", "room not found")
	ErrInvalidTimeRange       = billing.NewError(billing.KindInvalidRequest, "", "end time must be after start time")
	ErrRoomInactive           = billing.NewError(billing.KindInvalidRequest, "", "room is not available for booking")
	ErrInvalidCredits         = billing.NewError(billing.KindInvalidRequest, "", "credits amount must be positive")
	ErrPaidPurchase           = billing.NewError(billing.KindInvalidRequest, "", "paid credit purchases are refunded through the payment gateway")
	ErrCouponExhausted        = errors.New("coupon usage cap reached")
)
