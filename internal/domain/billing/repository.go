package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a caller-owned transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) GetRoom(ctx context.Context, id int64) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repository) CreateBooking(ctx context.Context, b *Booking) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *Repository) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	var b Booking
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBookingForUpdate(ctx context.Context, id int64) (*Booking, error) {
	var b Booking
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// FindBookingByIdempotencyKey returns (nil, nil) when no booking carries the key.
func (r *Repository) FindBookingByIdempotencyKey(ctx context.Context, userID int64, key string) (*Booking, error) {
	var b Booking
	err := r.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) UpdateBooking(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&Booking{}).Where("id = ?", id).Updates(updates).Error
}

// ListStaleUnpaidBookingIDs returns bookings still waiting for payment that
// were created before the cutoff.
func (r *Repository) ListStaleUnpaidBookingIDs(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("financial_status = ? AND status <> ? AND created_at < ?", FinancialPendingPayment, BookingCancelled, before).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *Repository) CreateCreditPurchase(ctx context.Context, p *CreditPurchase) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) GetCreditPurchase(ctx context.Context, id int64) (*CreditPurchase, error) {
	var p CreditPurchase
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetCreditPurchaseForUpdate(ctx context.Context, id int64) (*CreditPurchase, error) {
	var p CreditPurchase
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) FindCreditPurchaseByIdempotencyKey(ctx context.Context, userID int64, key string) (*CreditPurchase, error) {
	var p CreditPurchase
	err := r.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) UpdateCreditPurchase(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&CreditPurchase{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) CreatePayment(ctx context.Context, p *GatewayPayment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// FindPayment resolves a gateway notification to the local payment, first
// by our reference, then by the gateway's own id. Returns (nil, nil) when
// neither matches.
func (r *Repository) FindPayment(ctx context.Context, reference, gatewayID string) (*GatewayPayment, error) {
	var p GatewayPayment
	if reference != "" {
		err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("reference = ?", reference).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if gatewayID != "" {
		err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("gateway_payment_id = ?", gatewayID).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// FindPaymentByOwner returns the most recent payment for the owner, or (nil, nil).
func (r *Repository) FindPaymentByOwner(ctx context.Context, ownerType OwnerType, ownerID int64) (*GatewayPayment, error) {
	var p GatewayPayment
	err := r.db.WithContext(ctx).Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).Order("id desc").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) UpdatePayment(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&GatewayPayment{}).Where("id = ?", id).Updates(updates).Error
}

// UpdatePaymentStatusIf moves a payment between statuses only when it is
// currently in one of the expected ones and reports whether a row changed.
func (r *Repository) UpdatePaymentStatusIf(ctx context.Context, id int64, to PaymentStatus, from []PaymentStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&GatewayPayment{}).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetRefundForUpdate returns (nil, nil) when the payment has no refund yet.
func (r *Repository) GetRefundForUpdate(ctx context.Context, paymentID int64) (*Refund, error) {
	var rf Refund
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("payment_id = ?", paymentID).First(&rf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rf, nil
}

func (r *Repository) CreateRefund(ctx context.Context, rf *Refund) error {
	return r.db.WithContext(ctx).Create(rf).Error
}

func (r *Repository) UpdateRefund(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&Refund{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) ListRefundsPendingReview(ctx context.Context, limit int) ([]Refund, error) {
	var out []Refund
	err := r.db.WithContext(ctx).
		Where("review_status = ? OR status = ?", ReviewPending, RefundPending).
		Order("updated_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
