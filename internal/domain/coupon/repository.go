package coupon

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	var c Coupon
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) Create(ctx context.Context, c *Coupon) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) List(ctx context.Context) ([]Coupon, error) {
	var out []Coupon
	err := r.db.WithContext(ctx).Order("code").Find(&out).Error
	return out, err
}

func (r *Repository) Deactivate(ctx context.Context, code string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Coupon{}).Where("code = ? AND is_active = ?", code, true).Update("is_active", false)
	return res.RowsAffected > 0, res.Error
}

// IncrementUses bumps the global counter only while it is below the cap.
// A false result means the coupon ran out between resolution and claim.
func (r *Repository) IncrementUses(ctx context.Context, code string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Coupon{}).
		Where("code = ? AND (max_uses IS NULL OR current_uses < max_uses)", code).
		UpdateColumn("current_uses", gorm.Expr("current_uses + 1"))
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) DecrementUses(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).
		Model(&Coupon{}).
		Where("code = ? AND current_uses > 0", code).
		UpdateColumn("current_uses", gorm.Expr("current_uses - 1")).Error
}

// FindUsage returns (nil, nil) when the user never touched the coupon in
// that context.
func (r *Repository) FindUsage(ctx context.Context, userID int64, code string, usageCtx UsageContext) (*Usage, error) {
	var u Usage
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND coupon_code = ? AND context = ?", userID, code, usageCtx).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ClaimRestored re-attaches a restored usage row to a new target. It is a
// guarded update, so it cannot raise a uniqueness violation.
func (r *Repository) ClaimRestored(ctx context.Context, userID int64, code string, usageCtx UsageContext, target Target) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Usage{}).
		Where("user_id = ? AND coupon_code = ? AND context = ? AND status = ?", userID, code, usageCtx, UsageRestored).
		Updates(map[string]interface{}{
			"status":      UsageUsed,
			"booking_id":  target.BookingID,
			"credit_id":   target.CreditID,
			"restored_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) InsertUsage(ctx context.Context, u *Usage) error {
	return r.db.WithContext(ctx).Create(u).Error
}

// RestoreByTarget flips the used row attached to target back to restored
// and detaches it. Returns (nil, nil) when nothing was attached.
func (r *Repository) RestoreByTarget(ctx context.Context, target Target, now time.Time) (*Usage, error) {
	q := r.db.WithContext(ctx).Where("status = ?", UsageUsed)
	switch {
	case target.BookingID != nil:
		q = q.Where("booking_id = ?", *target.BookingID)
	case target.CreditID != nil:
		q = q.Where("credit_id = ?", *target.CreditID)
	default:
		return nil, nil
	}

	var u Usage
	if err := q.First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	res := r.db.WithContext(ctx).
		Model(&Usage{}).
		Where("id = ? AND status = ?", u.ID, UsageUsed).
		Updates(map[string]interface{}{
			"status":      UsageRestored,
			"restored_at": now,
			"booking_id":  nil,
			"credit_id":   nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	u.Status = UsageRestored
	u.RestoredAt = &now
	u.BookingID = nil
	u.CreditID = nil
	return &u, nil
}
