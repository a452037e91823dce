package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	"coworking/internal/modules/refund"
	"coworking/internal/pkg/events"
)

// Actor is whoever asks for a cancellation. System actors (sweeper,
// gateway) skip the ownership check.
type Actor struct {
	UserID int64
	Admin  bool
	System bool
}

func (a Actor) owns(userID int64) bool {
	return a.System || a.Admin || a.UserID == userID
}

// CancelBooking cancels a booking. It is idempotent. An unpaid booking gets
// its coupon and credits back. A paid one keeps its coupon; if it was paid
// through the gateway it waits for the gateway refund, if it was covered by
// credits alone the credits are refunded here.
func (s *Service) CancelBooking(ctx context.Context, actor Actor, bookingID int64, reason string) (*CancelResult, error) {
	var res *CancelResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.CancelBookingTx(ctx, tx, actor, bookingID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Dispatch(res.Events...)
	return res, nil
}

// CancelBookingTx does the work of CancelBooking inside tx. Events are
// returned for the caller to dispatch after commit.
func (s *Service) CancelBookingTx(ctx context.Context, tx *gorm.DB, actor Actor, bookingID int64, reason string) (*CancelResult, error) {
	repo := s.repo.WithTx(tx)
	b, err := repo.GetBookingForUpdate(ctx, bookingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if !actor.owns(b.UserID) {
		return nil, ErrBookingNotFound
	}
	if b.Status == billing.BookingCancelled {
		return &CancelResult{ID: b.ID, AlreadyCancelled: true, FinancialStatus: b.FinancialStatus}, nil
	}

	wasPaid := b.FinancialStatus.WasPaid()
	var settled *refund.Outcome
	if wasPaid {
		payment, err := repo.FindPaymentByOwner(ctx, billing.OwnerBooking, b.ID)
		if err != nil {
			return nil, err
		}
		if payment == nil {
			// No gateway charge exists, so no refund notification will come.
			out := refund.Reconcile(refund.Basis{CreditsUsed: b.CreditsUsed, NetAmount: b.NetAmount}, b.NetAmount, false)
			settled = &out
		}
	}

	r := release{
		userID:     b.UserID,
		entityType: entityBooking,
		entityID:   b.ID,
		target:     coupon.BookingTarget(b.ID),
		owner:      billing.OwnerBooking,
		wasPaid:    wasPaid,
		couponCode: b.Coupon(),
	}
	switch {
	case !wasPaid:
		r.creditsUsed = b.CreditsUsed
	case settled != nil:
		r.creditsUsed = settled.CreditsRestored
	}
	res, err := s.releaseTx(ctx, tx, r)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updates := map[string]interface{}{
		"status":       billing.BookingCancelled,
		"cancelled_at": now,
	}
	res.FinancialStatus = b.FinancialStatus
	switch {
	case !wasPaid:
		updates["financial_status"] = billing.FinancialCancelled
		res.FinancialStatus = billing.FinancialCancelled
	case settled != nil:
		updates["financial_status"] = billing.FinancialRefunded
		res.FinancialStatus = billing.FinancialRefunded
		res.Events = append(res.Events, events.Event{
			Type:        events.RefundReconciled,
			EntityType:  entityBooking,
			EntityID:    b.ID,
			UserID:      b.UserID,
			AmountCents: settled.RefundedAmount,
			Data: map[string]any{
				"status":           settled.Status,
				"credits_restored": res.CreditsReturned,
				"money_returned":   settled.MoneyReturned,
				"local":            true,
			},
		})
	}
	if err := repo.UpdateBooking(ctx, b.ID, updates); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("user_id", b.UserID).
		Bool("was_paid", wasPaid).
		Str("coupon_code", res.CouponRestored).
		Int64("credits_returned", res.CreditsReturned).
		Str("reason", reason).
		Msg("booking cancelled")

	res.Events = append([]events.Event{{
		Type:       events.BookingCancelled,
		EntityType: entityBooking,
		EntityID:   b.ID,
		UserID:     b.UserID,
		CouponCode: b.Coupon(),
		Data:       map[string]any{"was_paid": wasPaid, "reason": reason},
	}}, res.Events...)
	return res, nil
}

// CancelCreditPurchase voids an unpaid credit purchase. Paid purchases can
// only be unwound by a gateway refund.
func (s *Service) CancelCreditPurchase(ctx context.Context, actor Actor, purchaseID int64, reason string) (*CancelResult, error) {
	var res *CancelResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.CancelCreditPurchaseTx(ctx, tx, actor, purchaseID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.events.Dispatch(res.Events...)
	return res, nil
}

func (s *Service) CancelCreditPurchaseTx(ctx context.Context, tx *gorm.DB, actor Actor, purchaseID int64, reason string) (*CancelResult, error) {
	repo := s.repo.WithTx(tx)
	cp, err := repo.GetCreditPurchaseForUpdate(ctx, purchaseID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCreditPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if !actor.owns(cp.UserID) {
		return nil, ErrCreditPurchaseNotFound
	}
	if cp.FinancialStatus == billing.FinancialCancelled {
		return &CancelResult{ID: cp.ID, AlreadyCancelled: true, FinancialStatus: cp.FinancialStatus}, nil
	}
	if cp.FinancialStatus.WasPaid() {
		return nil, ErrPaidPurchase
	}

	res, err := s.releaseTx(ctx, tx, release{
		userID:     cp.UserID,
		entityType: entityCreditPurchase,
		entityID:   cp.ID,
		target:     coupon.CreditTarget(cp.ID),
		owner:      billing.OwnerCreditPurchase,
		couponCode: cp.Coupon(),
	})
	if err != nil {
		return nil, err
	}

	if err := repo.UpdateCreditPurchase(ctx, cp.ID, map[string]interface{}{
		"financial_status": billing.FinancialCancelled,
		"cancelled_at":     s.now().UTC(),
	}); err != nil {
		return nil, err
	}
	res.FinancialStatus = billing.FinancialCancelled

	s.logger.Info().
		Int64("credit_purchase_id", cp.ID).
		Int64("user_id", cp.UserID).
		Str("coupon_code", res.CouponRestored).
		Str("reason", reason).
		Msg("credit purchase cancelled")

	res.Events = append([]events.Event{{
		Type:       events.CreditPurchaseCancelled,
		EntityType: entityCreditPurchase,
		EntityID:   cp.ID,
		UserID:     cp.UserID,
		CouponCode: cp.Coupon(),
		Data:       map[string]any{"reason": reason},
	}}, res.Events...)
	return res, nil
}

type release struct {
	userID      int64
	entityType  string
	entityID    int64
	target      coupon.Target
	owner       billing.OwnerType
	wasPaid     bool
	creditsUsed int64
	couponCode  string
}

// releaseTx gives back what an unpaid owner consumed: the coupon usage, the
// coupon's global use, the credits spent and the open gateway payment. For a
// paid owner only creditsUsed is returned, and only when the caller settles
// the refund locally (it passes zero otherwise).
func (s *Service) releaseTx(ctx context.Context, tx *gorm.DB, r release) (*CancelResult, error) {
	res := &CancelResult{ID: r.entityID}

	restored, err := s.ledger.RestoreCouponUsage(ctx, tx, r.target, r.wasPaid)
	if err != nil {
		return nil, err
	}
	if restored.Restored {
		res.CouponRestored = restored.CouponCode
		if err := s.coupons.WithTx(tx).DecrementUses(ctx, restored.CouponCode); err != nil {
			return nil, err
		}
		res.Events = append(res.Events, events.Event{
			Type:       events.CouponUsageRestored,
			EntityType: r.entityType,
			EntityID:   r.entityID,
			UserID:     r.userID,
			CouponCode: restored.CouponCode,
		})
	} else if !r.wasPaid && r.couponCode != "" {
		if err := s.releaseRowlessUseTx(ctx, tx, r.couponCode); err != nil {
			return nil, err
		}
	}
	if r.creditsUsed > 0 {
		returned, err := s.wallet.SumEntriesTx(ctx, tx, r.entityType, r.entityID, wallet.TransactionTypeRefund)
		if err != nil {
			return nil, err
		}
		if owed := r.creditsUsed - returned; owed > 0 {
			ref := wallet.Ref{EntityType: r.entityType, EntityID: r.entityID, Description: fmt.Sprintf("%s #%d cancelled", r.entityType, r.entityID)}
			if _, _, err := s.wallet.CreditTx(ctx, tx, r.userID, owed, wallet.TransactionTypeRefund, ref); err != nil {
				return nil, err
			}
			res.CreditsReturned = owed
		}
	}
	if r.wasPaid {
		return res, nil
	}

	payment, err := s.repo.WithTx(tx).FindPaymentByOwner(ctx, r.owner, r.entityID)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		if _, err := s.repo.WithTx(tx).UpdatePaymentStatusIf(ctx, payment.ID, billing.PaymentCancelled, []billing.PaymentStatus{billing.PaymentCreated}, nil); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// releaseRowlessUseTx gives back the global use of a stored coupon that the
// ledger does not track per user (reusable or dev coupons).
func (s *Service) releaseRowlessUseTx(ctx context.Context, tx *gorm.DB, code string) error {
	c, err := s.coupons.WithTx(tx).GetByCode(ctx, code)
	if errors.Is(err, coupon.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.SingleUsePerUser && !c.IsDevCoupon {
		return nil
	}
	return s.coupons.WithTx(tx).DecrementUses(ctx, c.Code)
}

// ExpireUnpaid cancels bookings still waiting for payment after olderThan.
// Each booking is cancelled in its own transaction; one failure does not
// stop the sweep.
func (s *Service) ExpireUnpaid(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	ids, err := s.repo.ListStaleUnpaidBookingIDs(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		res, err := s.CancelBooking(ctx, Actor{System: true}, id, "payment window expired")
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", id).Msg("failed to expire unpaid booking")
			continue
		}
		if !res.AlreadyCancelled {
			expired++
		}
	}
	return expired, nil
}
