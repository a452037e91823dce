package coupon

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("coupon not found")

// UsageConflictError is raised when inserting a usage row loses a
// uniqueness race. It must abort the surrounding transaction; the ledger
// never recovers from it in place.
type UsageConflictError struct {
	UserID     int64
	CouponCode string
	Context    UsageContext
	Err        error
}

func (e *UsageConflictError) Error() string {
	return fmt.Sprintf("coupon usage conflict user=%d code=%s context=%s: %v", e.UserID, e.CouponCode, e.Context, e.Err)
}

func (e *UsageConflictError) Unwrap() error { return e.Err }

func IsUsageConflict(err error) (*UsageConflictError, bool) {
	var c *UsageConflictError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}
