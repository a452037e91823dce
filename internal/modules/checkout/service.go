// Package checkout turns a priced request into a booking or credit
// purchase: coupon, credits and override are applied and the price audit
// snapshot is written in one transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/domain/wallet"
	couponmod "coworking/internal/modules/coupon"
	"coworking/internal/modules/discount"
	"coworking/internal/modules/override"
	"coworking/internal/pkg/dberr"
	"coworking/internal/pkg/events"
)

const (
	entityBooking        = "booking"
	entityCreditPurchase = "credit_purchase"
)

type Service struct {
	db       *gorm.DB
	repo     *billing.Repository
	coupons  *coupon.Repository
	registry *couponmod.Registry
	ledger   *couponmod.Ledger
	wallet   *wallet.Service
	gate     *override.Gate
	events   *events.Dispatcher
	logger   zerolog.Logger
	now      func() time.Time
}

type Deps struct {
	DB       *gorm.DB
	Registry *couponmod.Registry
	Ledger   *couponmod.Ledger
	Wallet   *wallet.Service
	Gate     *override.Gate
	Events   *events.Dispatcher
	Logger   zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		db:       d.DB,
		repo:     billing.NewRepository(d.DB),
		coupons:  coupon.NewRepository(d.DB),
		registry: d.Registry,
		ledger:   d.Ledger,
		wallet:   d.Wallet,
		gate:     d.Gate,
		events:   d.Events,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// pricing is everything decided before the write transaction opens.
type pricing struct {
	gross    int64
	discount int64
	couponOK bool
	cfg      *coupon.Config
	override override.Decision
}

func (p pricing) couponCode() string {
	if !p.couponOK || p.cfg == nil {
		return ""
	}
	return p.cfg.Code
}

// FinalizeBooking prices and persists a booking. A replay with the same
// idempotency key returns the stored booking unchanged.
func (s *Service) FinalizeBooking(ctx context.Context, in BookingInput) (*BookingResult, error) {
	if !in.EndTime.After(in.StartTime) {
		return nil, ErrInvalidTimeRange
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}
	log := s.logger.With().Str("request_id", in.RequestID).Int64("user_id", in.UserID).Logger()

	if existing, err := s.repo.FindBookingByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.bookingReplay(ctx, existing)
	}

	room, err := s.repo.GetRoom(ctx, in.RoomID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomInactive
	}

	p := pricing{gross: room.PriceFor(in.StartTime, in.EndTime)}
	p.override = s.gate.ValidateOverrideAccess(override.Session{UserID: in.UserID, Email: in.Email, Role: in.Role}, in.Override, in.RequestID)
	if !p.override.Allowed {
		return nil, p.override.Err()
	}
	if !p.override.Active {
		if err := s.priceCoupon(ctx, &p, in.UserID, in.Email, in.CouponCode, coupon.ContextBooking); err != nil {
			return nil, err
		}
	}

	var (
		booking *billing.Booking
		payment *billing.GatewayPayment
		mode    couponmod.RecordMode
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		booking, payment, mode, err = s.createBookingTx(ctx, tx, in, p)
		return err
	})
	if err != nil {
		return s.recoverBookingConflict(ctx, in, err)
	}

	log.Info().
		Int64("booking_id", booking.ID).
		Str("coupon_code", booking.Coupon()).
		Int64("gross", booking.GrossAmount).
		Int64("net", booking.NetAmount).
		Int64("credits_used", booking.CreditsUsed).
		Int64("amount_paid", booking.AmountPaid).
		Str("pricing_mode", string(booking.PricingMode)).
		Msg("booking finalized")

	s.events.Dispatch(events.Event{
		Type:        events.BookingFinalized,
		EntityType:  entityBooking,
		EntityID:    booking.ID,
		UserID:      booking.UserID,
		AmountCents: booking.AmountPaid,
		CouponCode:  booking.Coupon(),
	})
	return &BookingResult{Booking: booking, Payment: payment, CouponMode: mode}, nil
}

func (s *Service) priceCoupon(ctx context.Context, p *pricing, userID int64, email, code string, usageCtx coupon.UsageContext) error {
	if coupon.NormalizeCode(code) == "" {
		return nil
	}
	check, err := s.ledger.CheckCouponUsage(ctx, userID, code, usageCtx, email)
	if err != nil {
		return err
	}
	if !check.CanUse {
		return check.Err(code)
	}

	quote := s.registry.ApplyDiscount(ctx, p.gross, code)
	if err := quote.Err(); err != nil {
		return err
	}
	p.discount = quote.DiscountAmount
	p.couponOK = quote.CouponApplied
	p.cfg = quote.Config
	return nil
}

func (s *Service) createBookingTx(ctx context.Context, tx *gorm.DB, in BookingInput, p pricing) (*billing.Booking, *billing.GatewayPayment, couponmod.RecordMode, error) {
	now := s.now().UTC()
	b := &billing.Booking{
		UserID:         in.UserID,
		RoomID:         in.RoomID,
		IdempotencyKey: in.IdempotencyKey,
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.EndTime.UTC(),
		PricingMode:    billing.PricingNormal,
	}

	var err error
	if p.override.Active {
		gross := max(p.gross, p.override.FinalCents)
		b.PriceAudit, err = billing.NewPriceAudit(gross, gross-p.override.FinalCents, "", 0)
		final := p.override.FinalCents
		b.PricingMode = billing.PricingOverride
		b.OverrideFinalCents = &final
		b.OverrideReason = p.override.Reason
		b.OverrideByUserID = &in.UserID
		b.OverrideCreatedAt = &now
	} else {
		var credits int64
		if in.UseCredits {
			balance, berr := s.wallet.Balance(ctx, tx, in.UserID)
			if berr != nil {
				return nil, nil, "", berr
			}
			credits = creditsToApply(p.gross-p.discount, balance)
		}
		b.PriceAudit, err = billing.NewPriceAudit(p.gross, p.discount, p.couponCode(), credits)
	}
	if err != nil {
		return nil, nil, "", err
	}
	setBookingStatus(b)

	repo := s.repo.WithTx(tx)
	if err := repo.CreateBooking(ctx, b); err != nil {
		return nil, nil, "", err
	}

	if b.CreditsUsed > 0 {
		ref := wallet.Ref{EntityType: entityBooking, EntityID: b.ID, Description: fmt.Sprintf("booking #%d", b.ID)}
		if _, _, err := s.wallet.SpendTx(ctx, tx, b.UserID, b.CreditsUsed, ref); err != nil {
			return nil, nil, "", err
		}
	}

	mode, err := s.claimCoupon(ctx, tx, in.UserID, p, coupon.ContextBooking, coupon.BookingTarget(b.ID))
	if err != nil {
		return nil, nil, "", err
	}

	payment, err := s.openPayment(ctx, repo, billing.OwnerBooking, b.ID, b.UserID, b.AmountPaid)
	if err != nil {
		return nil, nil, "", err
	}
	return b, payment, mode, nil
}

// setBookingStatus confirms a booking nothing is owed on.
func setBookingStatus(b *billing.Booking) {
	if b.AmountPaid == 0 {
		b.Status = billing.BookingConfirmed
		b.FinancialStatus = billing.FinancialPaid
		return
	}
	b.Status = billing.BookingPending
	b.FinancialStatus = billing.FinancialPendingPayment
}

func (s *Service) claimCoupon(ctx context.Context, tx *gorm.DB, userID int64, p pricing, usageCtx coupon.UsageContext, target coupon.Target) (couponmod.RecordMode, error) {
	if !p.couponOK || p.cfg == nil {
		return "", nil
	}
	res, err := s.ledger.RecordCouponUsageIdempotent(ctx, tx, couponmod.RecordInput{
		UserID:      userID,
		CouponCode:  p.cfg.Code,
		Context:     usageCtx,
		Target:      target,
		IsDevCoupon: p.cfg.IsDevCoupon,
		Reusable:    !p.cfg.SingleUsePerUser,
	})
	if err != nil {
		return "", err
	}

	if p.cfg.Source == coupon.SourceStore {
		ok, err := s.coupons.WithTx(tx).IncrementUses(ctx, p.cfg.Code)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", billing.NewError(billing.KindCouponInvalid, p.cfg.Code, ErrCouponExhausted.Error())
		}
	}
	return res.Mode, nil
}

func (s *Service) openPayment(ctx context.Context, repo *billing.Repository, owner billing.OwnerType, ownerID, userID, amount int64) (*billing.GatewayPayment, error) {
	if amount <= 0 {
		return nil, nil
	}
	payment := &billing.GatewayPayment{
		Reference:   uuid.NewString(),
		OwnerType:   owner,
		OwnerID:     ownerID,
		UserID:      userID,
		AmountCents: amount,
		Status:      billing.PaymentCreated,
	}
	if err := repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// recoverBookingConflict runs after the failed transaction rolled back. A
// concurrent request with the same key wins and is replayed; a lost coupon
// race is classified by the ledger.
func (s *Service) recoverBookingConflict(ctx context.Context, in BookingInput, txErr error) (*BookingResult, error) {
	conflict, isCoupon := coupon.IsUsageConflict(txErr)
	if !isCoupon && !dberr.IsUniqueViolation(txErr) {
		return nil, txErr
	}

	existing, err := s.repo.FindBookingByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !isCoupon {
		if existing == nil {
			return nil, txErr
		}
		return s.bookingReplay(ctx, existing)
	}

	target := coupon.Target{}
	if existing != nil {
		target = coupon.BookingTarget(existing.ID)
	}
	if _, err := s.ledger.ResolveConflict(ctx, conflict, target); err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, couponmod.ErrConflictUnresolved
	}
	return s.bookingReplay(ctx, existing)
}

func (s *Service) bookingReplay(ctx context.Context, b *billing.Booking) (*BookingResult, error) {
	payment, err := s.repo.FindPaymentByOwner(ctx, billing.OwnerBooking, b.ID)
	if err != nil {
		return nil, err
	}
	return &BookingResult{Booking: b, Payment: payment, Replayed: true}, nil
}

// creditsToApply spends as much balance as possible while keeping any cash
// portion at or above the gateway minimum.
func creditsToApply(net, balance int64) int64 {
	credits := min(balance, net)
	if credits <= 0 {
		return 0
	}
	if cash := net - credits; cash > 0 && cash < discount.GatewayMinimumCents {
		credits = max(0, net-discount.GatewayMinimumCents)
	}
	return credits
}

// FinalizeCreditPurchase prices and persists a credit purchase. Credits are
// granted here only when nothing is owed; otherwise on payment confirmation.
func (s *Service) FinalizeCreditPurchase(ctx context.Context, in CreditPurchaseInput) (*CreditPurchaseResult, error) {
	if in.CreditsAmount <= 0 {
		return nil, ErrInvalidCredits
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	if existing, err := s.repo.FindCreditPurchaseByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.purchaseReplay(ctx, existing)
	}

	p := pricing{gross: in.CreditsAmount}
	if err := s.priceCoupon(ctx, &p, in.UserID, in.Email, in.CouponCode, coupon.ContextCreditPurchase); err != nil {
		return nil, err
	}

	var (
		purchase *billing.CreditPurchase
		payment  *billing.GatewayPayment
		mode     couponmod.RecordMode
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		purchase, payment, mode, err = s.createPurchaseTx(ctx, tx, in, p)
		return err
	})
	if err != nil {
		return s.recoverPurchaseConflict(ctx, in, err)
	}

	s.logger.Info().
		Str("request_id", in.RequestID).
		Int64("user_id", in.UserID).
		Int64("credit_purchase_id", purchase.ID).
		Str("coupon_code", purchase.Coupon()).
		Int64("amount_paid", purchase.AmountPaid).
		Msg("credit purchase finalized")

	s.events.Dispatch(events.Event{
		Type:        events.CreditPurchaseFinalized,
		EntityType:  entityCreditPurchase,
		EntityID:    purchase.ID,
		UserID:      purchase.UserID,
		AmountCents: purchase.AmountPaid,
		CouponCode:  purchase.Coupon(),
	})
	return &CreditPurchaseResult{Purchase: purchase, Payment: payment, CouponMode: mode}, nil
}

func (s *Service) createPurchaseTx(ctx context.Context, tx *gorm.DB, in CreditPurchaseInput, p pricing) (*billing.CreditPurchase, *billing.GatewayPayment, couponmod.RecordMode, error) {
	audit, err := billing.NewPriceAudit(p.gross, p.discount, p.couponCode(), 0)
	if err != nil {
		return nil, nil, "", err
	}
	cp := &billing.CreditPurchase{
		UserID:          in.UserID,
		IdempotencyKey:  in.IdempotencyKey,
		CreditsAmount:   in.CreditsAmount,
		FinancialStatus: billing.FinancialPendingPayment,
		PriceAudit:      audit,
	}
	if cp.AmountPaid == 0 {
		now := s.now().UTC()
		cp.FinancialStatus = billing.FinancialPaid
		cp.CreditsGrantedAt = &now
	}

	repo := s.repo.WithTx(tx)
	if err := repo.CreateCreditPurchase(ctx, cp); err != nil {
		return nil, nil, "", err
	}

	if cp.CreditsGrantedAt != nil {
		ref := wallet.Ref{EntityType: entityCreditPurchase, EntityID: cp.ID, Description: fmt.Sprintf("credit purchase #%d", cp.ID)}
		if _, _, err := s.wallet.CreditTx(ctx, tx, cp.UserID, cp.CreditsAmount, wallet.TransactionTypeAdd, ref); err != nil {
			return nil, nil, "", err
		}
	}

	mode, err := s.claimCoupon(ctx, tx, in.UserID, p, coupon.ContextCreditPurchase, coupon.CreditTarget(cp.ID))
	if err != nil {
		return nil, nil, "", err
	}

	payment, err := s.openPayment(ctx, repo, billing.OwnerCreditPurchase, cp.ID, cp.UserID, cp.AmountPaid)
	if err != nil {
		return nil, nil, "", err
	}
	return cp, payment, mode, nil
}

func (s *Service) recoverPurchaseConflict(ctx context.Context, in CreditPurchaseInput, txErr error) (*CreditPurchaseResult, error) {
	conflict, isCoupon := coupon.IsUsageConflict(txErr)
	if !isCoupon && !dberr.IsUniqueViolation(txErr) {
		return nil, txErr
	}

	existing, err := s.repo.FindCreditPurchaseByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !isCoupon {
		if existing == nil {
			return nil, txErr
		}
		return s.purchaseReplay(ctx, existing)
	}

	target := coupon.Target{}
	if existing != nil {
		target = coupon.CreditTarget(existing.ID)
	}
	if _, err := s.ledger.ResolveConflict(ctx, conflict, target); err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, couponmod.ErrConflictUnresolved
	}
	return s.purchaseReplay(ctx, existing)
}

func (s *Service) purchaseReplay(ctx context.Context, cp *billing.CreditPurchase) (*CreditPurchaseResult, error) {
	payment, err := s.repo.FindPaymentByOwner(ctx, billing.OwnerCreditPurchase, cp.ID)
	if err != nil {
		return nil, err
	}
	return &CreditPurchaseResult{Purchase: cp, Payment: payment, Replayed: true}, nil
}
