package payment

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/modules/checkout"
	"coworking/internal/modules/refund"
	"coworking/internal/pkg/dedup"
	"coworking/internal/pkg/events"
)

func confirm(f *fixture, t *testing.T, res *checkout.BookingResult) {
	t.Helper()
	p := notice(EventPaymentConfirmed, res.Payment.Reference)
	p.Payment.Value = amount(res.Payment.AmountCents)
	got := f.deliver(t, p)
	require.Equal(t, ActionMarkedPaid, got.Action)
}

func TestHandleWebhook_ConfirmBooking(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 0)

	p := notice(EventPaymentReceived, res.Payment.Reference)
	p.Payment.Value = amount(8500)
	got := f.deliver(t, p)
	assert.Equal(t, ActionMarkedPaid, got.Action)
	assert.Equal(t, res.Payment.ID, got.PaymentID)
	assert.Equal(t, billing.OwnerBooking, got.OwnerType)
	assert.Empty(t, got.Reason)

	b := f.booking(t, res.Booking.ID)
	assert.Equal(t, billing.BookingConfirmed, b.Status)
	assert.Equal(t, billing.FinancialPaid, b.FinancialStatus)
	assert.False(t, b.NeedsReview)

	pay := f.payment(t, res.Payment.ID)
	assert.Equal(t, billing.PaymentPaid, pay.Status)
	assert.NotNil(t, pay.PaidAt)
	require.NotNil(t, pay.GatewayPaymentID)
	assert.Equal(t, "pay_"+res.Payment.Reference, *pay.GatewayPaymentID)

	again := f.deliver(t, p)
	assert.Equal(t, ActionAlreadyPaid, again.Action)

	assert.ElementsMatch(t, []events.Type{events.BookingFinalized, events.PaymentConfirmed}, f.flushEvents(t))
}

func TestHandleWebhook_ConfirmAmountMismatchFlagsBooking(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 0)

	p := notice(EventPaymentConfirmed, res.Payment.Reference)
	p.Payment.Value = amount(100)
	got := f.deliver(t, p)
	assert.Equal(t, ActionMarkedPaid, got.Action)
	assert.Contains(t, got.Reason, "expected 8500")

	b := f.booking(t, res.Booking.ID)
	assert.Equal(t, billing.FinancialPaid, b.FinancialStatus)
	assert.True(t, b.NeedsReview)
}

func TestHandleWebhook_FullRefundRestoresCredits(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 3000)
	require.Equal(t, int64(3000), res.Booking.CreditsUsed)
	require.Equal(t, int64(5500), res.Booking.AmountPaid)
	require.Zero(t, f.balance(t))
	confirm(f, t, res)

	got := f.deliver(t, refundNotice(res.Payment.Reference, 8500))
	assert.Equal(t, ActionRefunded, got.Action)
	require.NotNil(t, got.Refund)
	assert.Equal(t, refund.Outcome{
		ExpectedAmount:  8500,
		RefundedAmount:  8500,
		CreditsRestored: 3000,
		MoneyReturned:   5500,
		Status:          refund.StatusCompleted,
	}, *got.Refund)
	assert.Equal(t, int64(3000), f.balance(t))

	b := f.booking(t, res.Booking.ID)
	assert.Equal(t, billing.FinancialRefunded, b.FinancialStatus)
	assert.False(t, b.NeedsReview)
	assert.Equal(t, billing.PaymentRefunded, f.payment(t, res.Payment.ID).Status)

	rf := f.refundFor(t, res.Payment.ID)
	assert.Equal(t, billing.RefundCompleted, rf.Status)
	assert.Equal(t, billing.ReviewNone, rf.ReviewStatus)

	// A paid booking keeps its coupon through a refund.
	u, err := f.coupons.FindUsage(context.Background(), clientUserID, "PRIMEIRACOMPRA", coupon.ContextBooking)
	require.NoError(t, err)
	assert.Equal(t, coupon.UsageUsed, u.Status)

	dup := f.deliver(t, refundNotice(res.Payment.Reference, 8500))
	assert.Equal(t, ActionDuplicate, dup.Action)
	assert.Equal(t, int64(3000), f.balance(t))

	assert.ElementsMatch(t, []events.Type{events.BookingFinalized, events.PaymentConfirmed, events.RefundReconciled}, f.flushEvents(t))
}

func TestHandleWebhook_PartialRefund(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 3000)
	confirm(f, t, res)

	got := f.deliver(t, refundNotice(res.Payment.Reference, 6000))
	assert.Equal(t, ActionRefunded, got.Action)
	assert.True(t, got.Refund.IsPartial)
	assert.Equal(t, refund.StatusPending, got.Refund.Status)
	assert.Equal(t, int64(3000), got.Refund.CreditsRestored)
	assert.Equal(t, int64(3000), got.Refund.MoneyReturned)

	assert.Equal(t, billing.FinancialPartiallyRefunded, f.booking(t, res.Booking.ID).FinancialStatus)
	assert.Equal(t, billing.PaymentPartiallyRefunded, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, int64(3000), f.balance(t))

	pending, err := f.svc.ListPendingReview(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Payment.ID, pending[0].PaymentID)
}

func TestHandleWebhook_LargerRefundUpgradesByDelta(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 3000)
	confirm(f, t, res)

	first := f.deliver(t, refundNotice(res.Payment.Reference, 2000))
	assert.Equal(t, ActionRefunded, first.Action)
	assert.Equal(t, int64(2000), first.Refund.CreditsRestored)
	assert.Equal(t, int64(2000), f.balance(t))

	second := f.deliver(t, refundNotice(res.Payment.Reference, 8500))
	assert.Equal(t, ActionRefundUpgraded, second.Action)
	assert.Equal(t, refund.StatusCompleted, second.Refund.Status)
	assert.Equal(t, int64(3000), second.Refund.CreditsRestored)
	assert.Equal(t, int64(3000), f.balance(t))

	rf := f.refundFor(t, res.Payment.ID)
	assert.Equal(t, int64(8500), rf.RefundedAmount)
	assert.Equal(t, int64(5500), rf.MoneyReturned)
	assert.Equal(t, billing.RefundCompleted, rf.Status)
	assert.Equal(t, billing.FinancialRefunded, f.booking(t, res.Booking.ID).FinancialStatus)
}

func TestHandleWebhook_SmallerRefundAfterCompletionIsFlagged(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 3000)
	confirm(f, t, res)
	f.deliver(t, refundNotice(res.Payment.Reference, 8500))

	got := f.deliver(t, refundNotice(res.Payment.Reference, 6000))
	assert.Equal(t, ActionFlagged, got.Action)
	assert.Contains(t, got.Reason, "6000")

	rf := f.refundFor(t, res.Payment.ID)
	assert.Equal(t, int64(8500), rf.RefundedAmount)
	assert.Equal(t, billing.RefundCompleted, rf.Status)
	assert.Equal(t, billing.ReviewPending, rf.ReviewStatus)

	b := f.booking(t, res.Booking.ID)
	assert.Equal(t, billing.FinancialRefunded, b.FinancialStatus)
	assert.True(t, b.NeedsReview)
	assert.Equal(t, int64(3000), f.balance(t))
}

func TestHandleWebhook_OverRefundIsFlagged(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 0)
	confirm(f, t, res)

	p := notice(EventPaymentChargebackRequested, res.Payment.Reference)
	p.Payment.ChargebackValue = amount(20000)
	got := f.deliver(t, p)
	assert.Equal(t, ActionRefunded, got.Action)
	assert.True(t, got.Refund.Exceeds())
	assert.Contains(t, got.Reason, "exceeds")

	rf := f.refundFor(t, res.Payment.ID)
	assert.Equal(t, billing.ReviewPending, rf.ReviewStatus)
	assert.True(t, f.booking(t, res.Booking.ID).NeedsReview)
}

func TestHandleWebhook_RefundWithoutAmountUsesLocalPayment(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 3000)
	confirm(f, t, res)

	got := f.deliver(t, notice(EventPaymentPartiallyRefunded, res.Payment.Reference))
	require.NotNil(t, got.Refund)
	assert.False(t, got.Refund.AmountUnknown)
	assert.Equal(t, int64(5500), got.Refund.RefundedAmount)
	assert.Equal(t, refund.StatusPending, got.Refund.Status)
	assert.Equal(t, int64(3000), got.Refund.CreditsRestored)
	assert.Equal(t, int64(2500), got.Refund.MoneyReturned)
}

func TestHandleWebhook_RefundBeforeConfirmationIsFlagged(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 0)

	got := f.deliver(t, refundNotice(res.Payment.Reference, 8500))
	assert.Equal(t, ActionFlagged, got.Action)

	var count int64
	require.NoError(t, f.db.Model(&billing.Refund{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.True(t, f.booking(t, res.Booking.ID).NeedsReview)
	assert.Equal(t, billing.FinancialPendingPayment, f.booking(t, res.Booking.ID).FinancialStatus)
}

func TestHandleWebhook_OverdueCancelsUnpaidBooking(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 3000)

	got := f.deliver(t, notice(EventPaymentOverdue, res.Payment.Reference))
	assert.Equal(t, ActionCancelled, got.Action)

	b := f.booking(t, res.Booking.ID)
	assert.Equal(t, billing.BookingCancelled, b.Status)
	assert.Equal(t, billing.FinancialCancelled, b.FinancialStatus)
	assert.Equal(t, billing.PaymentCancelled, f.payment(t, res.Payment.ID).Status)
	assert.Equal(t, int64(3000), f.balance(t))

	u, err := f.coupons.FindUsage(context.Background(), clientUserID, "PRIMEIRACOMPRA", coupon.ContextBooking)
	require.NoError(t, err)
	assert.Equal(t, coupon.UsageRestored, u.Status)

	again := f.deliver(t, notice(EventPaymentDeleted, res.Payment.Reference))
	assert.Equal(t, ActionIgnored, again.Action)

	// The gateway changing its mind later never revives the booking.
	late := notice(EventPaymentConfirmed, res.Payment.Reference)
	late.Payment.Value = amount(5500)
	flagged := f.deliver(t, late)
	assert.Equal(t, ActionFlagged, flagged.Action)

	b = f.booking(t, res.Booking.ID)
	assert.Equal(t, billing.BookingCancelled, b.Status)
	assert.Equal(t, billing.FinancialCancelled, b.FinancialStatus)
	assert.True(t, b.NeedsReview)
	assert.Equal(t, billing.PaymentCancelled, f.payment(t, res.Payment.ID).Status)

	assert.ElementsMatch(t, []events.Type{
		events.BookingFinalized,
		events.BookingCancelled,
		events.CouponUsageRestored,
		events.RefundReviewRequired,
	}, f.flushEvents(t))
}

func TestHandleWebhook_CreditPurchaseLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.checkout.FinalizeCreditPurchase(ctx, checkout.CreditPurchaseInput{
		UserID: clientUserID, IdempotencyKey: "cp-1", CreditsAmount: 10000, CouponCode: "BEMVINDO10",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	require.Equal(t, int64(9000), res.Payment.AmountCents)

	p := notice(EventPaymentConfirmed, res.Payment.Reference)
	p.Payment.Value = amount(9000)
	assert.Equal(t, ActionMarkedPaid, f.deliver(t, p).Action)
	assert.Equal(t, int64(10000), f.balance(t))

	cp, err := f.repo.GetCreditPurchase(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.FinancialPaid, cp.FinancialStatus)
	assert.NotNil(t, cp.CreditsGrantedAt)

	assert.Equal(t, ActionAlreadyPaid, f.deliver(t, p).Action)
	assert.Equal(t, int64(10000), f.balance(t))

	got := f.deliver(t, refundNotice(res.Payment.Reference, 9000))
	assert.Equal(t, ActionRefunded, got.Action)
	assert.Contains(t, got.Reason, "clawback")
	assert.Equal(t, int64(10000), f.balance(t))

	cp, err = f.repo.GetCreditPurchase(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.FinancialRefunded, cp.FinancialStatus)
	assert.True(t, cp.NeedsReview)
}

func TestHandleWebhook_DeletedCancelsCreditPurchase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.checkout.FinalizeCreditPurchase(ctx, checkout.CreditPurchaseInput{
		UserID: clientUserID, IdempotencyKey: "cp-del", CreditsAmount: 5000, CouponCode: "BEMVINDO10",
	})
	require.NoError(t, err)

	got := f.deliver(t, notice(EventPaymentDeleted, res.Payment.Reference))
	assert.Equal(t, ActionCancelled, got.Action)

	cp, err := f.repo.GetCreditPurchase(ctx, res.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.FinancialCancelled, cp.FinancialStatus)
	u, err := f.coupons.FindUsage(ctx, clientUserID, "BEMVINDO10", coupon.ContextCreditPurchase)
	require.NoError(t, err)
	assert.Equal(t, coupon.UsageRestored, u.Status)
	assert.Zero(t, f.balance(t))
}

func TestHandleWebhook_AcknowledgesWhatItCannotApply(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, ActionIgnored, f.deliver(t, notice("PAYMENT_CREATED", "anything")).Action)
	assert.Equal(t, ActionUnknownPayment, f.deliver(t, refundNotice("no-such-reference", 100)).Action)

	missing := f.deliver(t, WebhookPayload{Event: EventPaymentConfirmed})
	assert.Equal(t, ActionIgnored, missing.Action)
	assert.Equal(t, "missing payment reference", missing.Reason)
}

func TestHandleWebhook_FindsPaymentByGatewayID(t *testing.T) {
	f := newFixture(t, nil)
	res := f.book(t, 0)
	confirm(f, t, res)

	p := refundNotice("", 8500)
	p.Payment.ID = "pay_" + res.Payment.Reference
	got := f.deliver(t, p)
	assert.Equal(t, ActionRefunded, got.Action)
	assert.Equal(t, res.Payment.ID, got.PaymentID)
}

func TestHandleWebhook_DedupGuardDropsRedelivery(t *testing.T) {
	client := newMemoryRedis()
	f := newFixture(t, dedup.NewGuard(client, 0, zerolog.Nop()))
	res := f.book(t, 0)

	p := notice(EventPaymentConfirmed, res.Payment.Reference)
	p.Payment.Value = amount(8500)
	assert.Equal(t, ActionMarkedPaid, f.deliver(t, p).Action)
	assert.Equal(t, ActionDuplicate, f.deliver(t, p).Action)
	assert.Contains(t, client.keys, dedup.WebhookKey(res.Payment.Reference, EventPaymentConfirmed, 8500))

	// A different amount is a different delivery.
	p.Payment.Value = amount(8400)
	assert.Equal(t, ActionAlreadyPaid, f.deliver(t, p).Action)
}

func TestAmountResolution(t *testing.T) {
	tests := []struct {
		name      string
		data      PaymentData
		local     int64
		want      int64
		wantKnown bool
	}{
		{"refunded first", PaymentData{RefundedValue: amount(100), ChargebackValue: amount(200), Value: amount(300)}, 400, 100, true},
		{"chargeback second", PaymentData{ChargebackValue: amount(200), Value: amount(300)}, 400, 200, true},
		{"value third", PaymentData{Value: amount(300)}, 400, 300, true},
		{"zero is absent", PaymentData{RefundedValue: amount(0), Value: amount(300)}, 400, 300, true},
		{"negative is absent", PaymentData{RefundedValue: amount(-50)}, 400, 400, true},
		{"fractional rounds", PaymentData{RefundedValue: decimal.NewNullDecimal(decimal.RequireFromString("149.5"))}, 0, 150, true},
		{"local fallback", PaymentData{}, 400, 400, true},
		{"unknown", PaymentData{}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := refundAmount(tt.data, tt.local)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, classConfirm, classify(EventPaymentReceived))
	assert.Equal(t, classRefund, classify(EventPaymentChargebackDispute))
	assert.Equal(t, classCancel, classify(EventPaymentOverdue))
	assert.Equal(t, classIgnore, classify("PAYMENT_UPDATED"))
}
