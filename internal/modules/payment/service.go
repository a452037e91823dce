package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/wallet"
	"coworking/internal/modules/checkout"
	"coworking/internal/modules/refund"
	"coworking/internal/pkg/dedup"
	"coworking/internal/pkg/events"
)

var errUnknownOwner = errors.New("payment has an unknown owner type")

type class int

const (
	classIgnore class = iota
	classConfirm
	classRefund
	classCancel
)

func classify(event string) class {
	switch event {
	case EventPaymentConfirmed, EventPaymentReceived:
		return classConfirm
	case EventPaymentRefunded, EventPaymentPartiallyRefunded,
		EventPaymentChargebackRequested, EventPaymentChargebackDispute:
		return classRefund
	case EventPaymentOverdue, EventPaymentDeleted:
		return classCancel
	}
	return classIgnore
}

type Service struct {
	db     *gorm.DB
	repo   *billing.Repository
	wallet creditWriter
	owners ownerCanceller
	guard  *dedup.Guard
	events *events.Dispatcher
	logger zerolog.Logger
	now    func() time.Time
}

type Deps struct {
	DB     *gorm.DB
	Wallet creditWriter
	Owners ownerCanceller
	Guard  *dedup.Guard
	Events *events.Dispatcher
	Logger zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		db:     d.DB,
		repo:   billing.NewRepository(d.DB),
		wallet: d.Wallet,
		owners: d.Owners,
		guard:  d.Guard,
		events: d.Events,
		logger: d.Logger,
		now:    time.Now,
	}
}

// notification is one webhook being applied inside a transaction.
type notification struct {
	tx      *gorm.DB
	repo    *billing.Repository
	payload WebhookPayload
	payment *billing.GatewayPayment
}

// HandleWebhook applies one gateway notification. It returns an error only
// when storage fails; everything else is acknowledged with a result so the
// gateway stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, p WebhookPayload, rawBody string) (*WebhookResult, error) {
	log := s.logger.With().
		Str("event", p.Event).
		Str("notification_id", p.ID).
		Str("reference", p.Payment.ExternalReference).
		Str("gateway_payment_id", p.Payment.ID).
		Logger()

	kind := classify(p.Event)
	if kind == classIgnore {
		log.Info().Msg("gateway event ignored")
		return &WebhookResult{Action: ActionIgnored}, nil
	}

	ref := p.Payment.ExternalReference
	if ref == "" {
		ref = p.Payment.ID
	}
	if ref == "" {
		log.Warn().Msg("gateway notification without payment reference")
		return &WebhookResult{Action: ActionIgnored, Reason: "missing payment reference"}, nil
	}

	amount, _ := reportedAmount(p.Payment)
	key := dedup.WebhookKey(ref, p.Event, amount)
	if !s.guard.Acquire(ctx, key) {
		log.Info().Msg("duplicate gateway notification dropped")
		return &WebhookResult{Action: ActionDuplicate}, nil
	}

	var res *WebhookResult
	var out []events.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, out, err = s.processTx(ctx, tx, kind, p, rawBody)
		return err
	})
	if err != nil {
		s.guard.Release(ctx, key)
		log.Error().Err(err).Msg("failed to apply gateway notification")
		return nil, err
	}

	log.Info().
		Str("action", string(res.Action)).
		Int64("payment_id", res.PaymentID).
		Str("reason", res.Reason).
		Msg("gateway notification applied")
	s.events.Dispatch(out...)
	return res, nil
}

func (s *Service) processTx(ctx context.Context, tx *gorm.DB, kind class, p WebhookPayload, rawBody string) (*WebhookResult, []events.Event, error) {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindPayment(ctx, p.Payment.ExternalReference, p.Payment.ID)
	if err != nil {
		return nil, nil, err
	}
	if payment == nil {
		return &WebhookResult{Action: ActionUnknownPayment}, nil, nil
	}

	updates := map[string]interface{}{"last_event": p.Event, "last_raw_body": rawBody}
	if payment.GatewayPaymentID == nil && p.Payment.ID != "" {
		updates["gateway_payment_id"] = p.Payment.ID
	}
	if err := repo.UpdatePayment(ctx, payment.ID, updates); err != nil {
		return nil, nil, err
	}

	n := notification{tx: tx, repo: repo, payload: p, payment: payment}
	var res *WebhookResult
	var out []events.Event
	switch kind {
	case classConfirm:
		res, out, err = s.confirmTx(ctx, n)
	case classRefund:
		res, out, err = s.refundTx(ctx, n)
	case classCancel:
		res, out, err = s.cancelTx(ctx, n)
	}
	if err != nil {
		return nil, nil, err
	}
	res.PaymentID = payment.ID
	res.OwnerType = payment.OwnerType
	res.OwnerID = payment.OwnerID
	return res, out, nil
}

// confirmTx marks the payment paid once. A confirmation for a payment that
// was already cancelled never revives it; the owner is flagged instead.
func (s *Service) confirmTx(ctx context.Context, n notification) (*WebhookResult, []events.Event, error) {
	pay := n.payment
	if collected(pay.Status) {
		return &WebhookResult{Action: ActionAlreadyPaid}, nil, nil
	}
	if pay.Status != billing.PaymentCreated {
		return s.flagTx(ctx, n, fmt.Sprintf("gateway confirmed a payment that is %s locally", pay.Status))
	}

	now := s.now().UTC()
	changed, err := n.repo.UpdatePaymentStatusIf(ctx, pay.ID, billing.PaymentPaid, []billing.PaymentStatus{billing.PaymentCreated}, map[string]interface{}{"paid_at": now})
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return &WebhookResult{Action: ActionAlreadyPaid}, nil, nil
	}

	var reason string
	switch pay.OwnerType {
	case billing.OwnerBooking:
		reason, err = s.confirmBookingTx(ctx, n)
	case billing.OwnerCreditPurchase:
		reason, err = s.confirmPurchaseTx(ctx, n, now)
	default:
		err = errUnknownOwner
	}
	if err != nil {
		return nil, nil, err
	}

	if v, ok := cents(n.payload.Payment.Value); ok && v != pay.AmountCents && reason == "" {
		reason = fmt.Sprintf("gateway confirmed %d, expected %d", v, pay.AmountCents)
	}

	out := []events.Event{{
		Type:        events.PaymentConfirmed,
		EntityType:  string(pay.OwnerType),
		EntityID:    pay.OwnerID,
		UserID:      pay.UserID,
		AmountCents: pay.AmountCents,
		Data:        map[string]any{"payment_reference": pay.Reference},
	}}
	if reason == "" {
		return &WebhookResult{Action: ActionMarkedPaid}, out, nil
	}

	if err := s.flagOwnerTx(ctx, n, reason); err != nil {
		return nil, nil, err
	}
	out = append(out, reviewEvent(pay, reason))
	return &WebhookResult{Action: ActionMarkedPaid, Reason: reason}, out, nil
}

// confirmBookingTx returns a review reason when the booking moved on
// without waiting for the payment.
func (s *Service) confirmBookingTx(ctx context.Context, n notification) (string, error) {
	b, err := n.repo.GetBookingForUpdate(ctx, n.payment.OwnerID)
	if err != nil {
		return "", err
	}
	if b.FinancialStatus != billing.FinancialPendingPayment {
		return fmt.Sprintf("booking was %s when the payment was confirmed", b.FinancialStatus), nil
	}
	return "", n.repo.UpdateBooking(ctx, b.ID, map[string]interface{}{
		"status":           billing.BookingConfirmed,
		"financial_status": billing.FinancialPaid,
	})
}

// confirmPurchaseTx grants whatever part of the purchased credits has not
// been granted yet.
func (s *Service) confirmPurchaseTx(ctx context.Context, n notification, now time.Time) (string, error) {
	cp, err := n.repo.GetCreditPurchaseForUpdate(ctx, n.payment.OwnerID)
	if err != nil {
		return "", err
	}
	if cp.FinancialStatus != billing.FinancialPendingPayment {
		return fmt.Sprintf("credit purchase was %s when the payment was confirmed", cp.FinancialStatus), nil
	}

	entity := string(billing.OwnerCreditPurchase)
	granted, err := s.wallet.SumEntriesTx(ctx, n.tx, entity, cp.ID, wallet.TransactionTypeAdd)
	if err != nil {
		return "", err
	}
	if owed := cp.CreditsAmount - granted; owed > 0 {
		ref := wallet.Ref{EntityType: entity, EntityID: cp.ID, Description: fmt.Sprintf("credit purchase #%d paid", cp.ID)}
		if _, _, err := s.wallet.CreditTx(ctx, n.tx, cp.UserID, owed, wallet.TransactionTypeAdd, ref); err != nil {
			return "", err
		}
	}
	return "", n.repo.UpdateCreditPurchase(ctx, cp.ID, map[string]interface{}{
		"financial_status":   billing.FinancialPaid,
		"credits_granted_at": now,
	})
}

// refundTx reconciles a refund or chargeback against the price snapshot.
// The coupon is never restored here: the owner was paid for.
func (s *Service) refundTx(ctx context.Context, n notification) (*WebhookResult, []events.Event, error) {
	pay := n.payment
	if !collected(pay.Status) {
		return s.flagTx(ctx, n, fmt.Sprintf("refund reported for a payment that is %s locally", pay.Status))
	}

	basis, err := s.basisTx(ctx, n)
	if err != nil {
		return nil, nil, err
	}
	amount, known := refundAmount(n.payload.Payment, pay.AmountCents)
	outcome := refund.Reconcile(basis, amount, !known)

	existing, err := n.repo.GetRefundForUpdate(ctx, pay.ID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case existing == nil:
		return s.applyRefundTx(ctx, n, nil, basis, outcome)
	case existing.RefundedAmount == outcome.RefundedAmount && existing.AmountUnknown == outcome.AmountUnknown:
		return &WebhookResult{Action: ActionDuplicate, Refund: &outcome}, nil, nil
	case existing.Status == billing.RefundPending && improves(existing, outcome):
		return s.applyRefundTx(ctx, n, existing, basis, outcome)
	}

	reason := fmt.Sprintf("gateway reported refund of %d after %d was recorded as %s", outcome.RefundedAmount, existing.RefundedAmount, existing.Status)
	if err := n.repo.UpdateRefund(ctx, existing.ID, map[string]interface{}{
		"review_status": billing.ReviewPending,
		"review_reason": reason,
		"last_event":    n.payload.Event,
	}); err != nil {
		return nil, nil, err
	}
	if err := s.flagOwnerTx(ctx, n, reason); err != nil {
		return nil, nil, err
	}
	return &WebhookResult{Action: ActionFlagged, Refund: &outcome, Reason: reason}, []events.Event{reviewEvent(pay, reason)}, nil
}

// applyRefundTx writes a new or upgraded refund. Only the credit delta
// over what was already restored moves.
func (s *Service) applyRefundTx(ctx context.Context, n notification, existing *billing.Refund, basis refund.Basis, outcome refund.Outcome) (*WebhookResult, []events.Event, error) {
	pay := n.payment
	delta := outcome.CreditsRestored
	action := ActionRefunded
	if existing != nil {
		delta -= existing.CreditsRestored
		action = ActionRefundUpgraded
	}
	if err := s.restoreCreditsTx(ctx, n, basis.CreditsUsed, delta); err != nil {
		return nil, nil, err
	}

	reason := reviewReason(pay.OwnerType, outcome)
	review := billing.ReviewNone
	if reason != "" {
		review = billing.ReviewPending
	}

	if existing == nil {
		rf := &billing.Refund{
			PaymentID:       pay.ID,
			OwnerType:       pay.OwnerType,
			OwnerID:         pay.OwnerID,
			UserID:          pay.UserID,
			ExpectedAmount:  outcome.ExpectedAmount,
			RefundedAmount:  outcome.RefundedAmount,
			AmountUnknown:   outcome.AmountUnknown,
			IsPartial:       outcome.IsPartial,
			CreditsRestored: outcome.CreditsRestored,
			MoneyReturned:   outcome.MoneyReturned,
			Status:          billing.RefundStatus(outcome.Status),
			ReviewStatus:    review,
			ReviewReason:    reason,
			LastEvent:       n.payload.Event,
		}
		if err := n.repo.CreateRefund(ctx, rf); err != nil {
			return nil, nil, err
		}
	} else {
		updates := map[string]interface{}{
			"expected_amount":  outcome.ExpectedAmount,
			"refunded_amount":  outcome.RefundedAmount,
			"amount_unknown":   outcome.AmountUnknown,
			"is_partial":       outcome.IsPartial,
			"credits_restored": outcome.CreditsRestored,
			"money_returned":   outcome.MoneyReturned,
			"status":           billing.RefundStatus(outcome.Status),
			"last_event":       n.payload.Event,
		}
		if reason != "" {
			updates["review_status"] = review
			updates["review_reason"] = reason
		}
		if err := n.repo.UpdateRefund(ctx, existing.ID, updates); err != nil {
			return nil, nil, err
		}
	}

	financial, paymentStatus := billing.FinancialPartiallyRefunded, billing.PaymentPartiallyRefunded
	if outcome.Status == refund.StatusCompleted {
		financial, paymentStatus = billing.FinancialRefunded, billing.PaymentRefunded
	}
	owner := map[string]interface{}{"financial_status": financial}
	if reason != "" {
		owner["needs_review"] = true
		owner["review_reason"] = reason
	}
	if err := updateOwner(ctx, n.repo, pay, owner); err != nil {
		return nil, nil, err
	}
	if err := n.repo.UpdatePayment(ctx, pay.ID, map[string]interface{}{"status": paymentStatus}); err != nil {
		return nil, nil, err
	}

	out := []events.Event{{
		Type:        events.RefundReconciled,
		EntityType:  string(pay.OwnerType),
		EntityID:    pay.OwnerID,
		UserID:      pay.UserID,
		AmountCents: outcome.RefundedAmount,
		Data: map[string]any{
			"status":           outcome.Status,
			"is_partial":       outcome.IsPartial,
			"amount_unknown":   outcome.AmountUnknown,
			"credits_restored": outcome.CreditsRestored,
			"money_returned":   outcome.MoneyReturned,
		},
	}}
	if reason != "" {
		out = append(out, reviewEvent(pay, reason))
	}
	return &WebhookResult{Action: action, Refund: &outcome, Reason: reason}, out, nil
}

// restoreCreditsTx credits back at most what the owner spent, counting
// restorations already on the ledger.
func (s *Service) restoreCreditsTx(ctx context.Context, n notification, creditsUsed, delta int64) error {
	if delta <= 0 || creditsUsed <= 0 {
		return nil
	}
	pay := n.payment
	entity := string(pay.OwnerType)
	restored, err := s.wallet.SumEntriesTx(ctx, n.tx, entity, pay.OwnerID, wallet.TransactionTypeRefund)
	if err != nil {
		return err
	}
	delta = min(delta, creditsUsed-restored)
	if delta <= 0 {
		return nil
	}
	ref := wallet.Ref{EntityType: entity, EntityID: pay.OwnerID, Description: fmt.Sprintf("%s #%d refunded", entity, pay.OwnerID)}
	_, _, err = s.wallet.CreditTx(ctx, n.tx, pay.UserID, delta, wallet.TransactionTypeRefund, ref)
	return err
}

func (s *Service) basisTx(ctx context.Context, n notification) (refund.Basis, error) {
	switch n.payment.OwnerType {
	case billing.OwnerBooking:
		b, err := n.repo.GetBookingForUpdate(ctx, n.payment.OwnerID)
		if err != nil {
			return refund.Basis{}, err
		}
		return refund.Basis{CreditsUsed: b.CreditsUsed, NetAmount: b.NetAmount}, nil
	case billing.OwnerCreditPurchase:
		cp, err := n.repo.GetCreditPurchaseForUpdate(ctx, n.payment.OwnerID)
		if err != nil {
			return refund.Basis{}, err
		}
		return refund.Basis{CreditsUsed: cp.CreditsUsed, NetAmount: cp.NetAmount}, nil
	}
	return refund.Basis{}, errUnknownOwner
}

// cancelTx voids the owner of a payment the gateway gave up on. Anything
// already paid is left alone.
func (s *Service) cancelTx(ctx context.Context, n notification) (*WebhookResult, []events.Event, error) {
	pay := n.payment
	if pay.Status != billing.PaymentCreated {
		return &WebhookResult{Action: ActionIgnored, Reason: fmt.Sprintf("payment is %s", pay.Status)}, nil, nil
	}

	actor := checkout.Actor{System: true}
	reason := "gateway " + strings.ToLower(n.payload.Event)
	var res *checkout.CancelResult
	var err error
	switch pay.OwnerType {
	case billing.OwnerBooking:
		res, err = s.owners.CancelBookingTx(ctx, n.tx, actor, pay.OwnerID, reason)
	case billing.OwnerCreditPurchase:
		res, err = s.owners.CancelCreditPurchaseTx(ctx, n.tx, actor, pay.OwnerID, reason)
	default:
		err = errUnknownOwner
	}
	if err != nil {
		return nil, nil, err
	}
	if res.AlreadyCancelled {
		return &WebhookResult{Action: ActionIgnored, Reason: "already cancelled"}, nil, nil
	}
	return &WebhookResult{Action: ActionCancelled}, res.Events, nil
}

func (s *Service) flagTx(ctx context.Context, n notification, reason string) (*WebhookResult, []events.Event, error) {
	if err := s.flagOwnerTx(ctx, n, reason); err != nil {
		return nil, nil, err
	}
	return &WebhookResult{Action: ActionFlagged, Reason: reason}, []events.Event{reviewEvent(n.payment, reason)}, nil
}

func (s *Service) flagOwnerTx(ctx context.Context, n notification, reason string) error {
	s.logger.Warn().
		Int64("payment_id", n.payment.ID).
		Str("owner_type", string(n.payment.OwnerType)).
		Int64("owner_id", n.payment.OwnerID).
		Str("reason", reason).
		Msg("payment flagged for review")
	return updateOwner(ctx, n.repo, n.payment, map[string]interface{}{
		"needs_review":  true,
		"review_reason": reason,
	})
}

// ListPendingReview returns refunds an operator has to look at: unknown or
// partial amounts and anything flagged.
func (s *Service) ListPendingReview(ctx context.Context, limit int) ([]billing.Refund, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListRefundsPendingReview(ctx, limit)
}

func updateOwner(ctx context.Context, repo *billing.Repository, pay *billing.GatewayPayment, updates map[string]interface{}) error {
	switch pay.OwnerType {
	case billing.OwnerBooking:
		return repo.UpdateBooking(ctx, pay.OwnerID, updates)
	case billing.OwnerCreditPurchase:
		return repo.UpdateCreditPurchase(ctx, pay.OwnerID, updates)
	}
	return errUnknownOwner
}

func reviewEvent(pay *billing.GatewayPayment, reason string) events.Event {
	return events.Event{
		Type:       events.RefundReviewRequired,
		EntityType: string(pay.OwnerType),
		EntityID:   pay.OwnerID,
		UserID:     pay.UserID,
		Data:       map[string]any{"reason": reason, "payment_reference": pay.Reference},
	}
}

func reviewReason(owner billing.OwnerType, outcome refund.Outcome) string {
	switch {
	case outcome.Exceeds():
		return fmt.Sprintf("refunded %d exceeds collected %d", outcome.RefundedAmount, outcome.ExpectedAmount)
	case owner == billing.OwnerCreditPurchase:
		return "credit purchase refunded, granted credits need manual clawback"
	}
	return ""
}

func improves(existing *billing.Refund, outcome refund.Outcome) bool {
	if outcome.AmountUnknown {
		return false
	}
	return existing.AmountUnknown || outcome.RefundedAmount > existing.RefundedAmount
}

func collected(status billing.PaymentStatus) bool {
	switch status {
	case billing.PaymentPaid, billing.PaymentPartiallyRefunded, billing.PaymentRefunded:
		return true
	}
	return false
}

// cents reads a minor-unit amount. Missing, zero and negative values are
// absent.
func cents(v decimal.NullDecimal) (int64, bool) {
	if !v.Valid {
		return 0, false
	}
	c := v.Decimal.Round(0).IntPart()
	if c <= 0 {
		return 0, false
	}
	return c, true
}

// reportedAmount takes refundedValue, then chargebackValue, then value.
func reportedAmount(p PaymentData) (int64, bool) {
	for _, v := range []decimal.NullDecimal{p.RefundedValue, p.ChargebackValue, p.Value} {
		if c, ok := cents(v); ok {
			return c, true
		}
	}
	return 0, false
}

// refundAmount falls back to the local payment amount; false means the
// amount is unknown.
func refundAmount(p PaymentData, local int64) (int64, bool) {
	if c, ok := reportedAmount(p); ok {
		return c, true
	}
	if local > 0 {
		return local, true
	}
	return 0, false
}
