package billing

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindCouponInvalid         ErrorKind = "COUPON_INVALID"
	KindCouponAlreadyUsed     ErrorKind = "COUPON_ALREADY_USED"
	KindCouponMinAmountNotMet ErrorKind = "COUPON_MIN_AMOUNT_NOT_MET"
	KindDevCouponBlocked      ErrorKind = "DEV_COUPON_BLOCKED"
	KindOverrideMissingReason ErrorKind = "OVERRIDE_MISSING_REASON"
	KindOverrideInvalidAmount ErrorKind = "OVERRIDE_INVALID_AMOUNT"
	KindOverrideAccessDenied  ErrorKind = "OVERRIDE_ACCESS_DENIED"
	KindInvalidRequest        ErrorKind = "INVALID_REQUEST"
	KindNotFound              ErrorKind = "NOT_FOUND"
)

// Error is a coded domain failure. The coupon code travels as a field so
// callers never parse messages.
type Error struct {
	Kind       ErrorKind
	CouponCode string
	Message    string
}

func (e *Error) Error() string {
	if e.CouponCode != "" {
		return fmt.Sprintf("%s: %s (coupon %s)", e.Kind, e.Message, e.CouponCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on kind so errors.Is(err, billing.ErrCouponAlreadyUsed) works
// for any coupon code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps a kind onto the client error it is surfaced as. None of
// the kinds are server faults.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindCouponAlreadyUsed:
		return http.StatusConflict
	case KindDevCouponBlocked, KindOverrideAccessDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (e *Error) ErrorCode() string { return string(e.Kind) }

func (e *Error) PublicMessage() string { return e.Message }

func NewError(kind ErrorKind, couponCode, message string) *Error {
	return &Error{Kind: kind, CouponCode: couponCode, Message: message}
}

var (
	ErrCouponInvalid         = &Error{Kind: KindCouponInvalid}
	ErrCouponAlreadyUsed     = &Error{Kind: KindCouponAlreadyUsed}
	ErrCouponMinAmountNotMet = &Error{Kind: KindCouponMinAmountNotMet}
	ErrDevCouponBlocked      = &Error{Kind: KindDevCouponBlocked}
	ErrOverrideMissingReason = &Error{Kind: KindOverrideMissingReason}
	ErrOverrideInvalidAmount = &Error{Kind: KindOverrideInvalidAmount}
	ErrOverrideAccessDenied  = &Error{Kind: KindOverrideAccessDenied}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
	ErrNotFound              = &Error{Kind: KindNotFound}
)

// AsError unwraps err into a coded domain error, if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
