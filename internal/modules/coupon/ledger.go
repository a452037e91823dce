package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/pkg/dberr"
)

// ErrConflictUnresolved means the row that won a usage race could not be
// classified; the whole operation may be retried.
var ErrConflictUnresolved = errors.New("coupon usage conflict could not be resolved")

type RecordMode string

const (
	ModeSkippedDev      RecordMode = "skipped_dev"
	ModeSkippedReusable RecordMode = "skipped_reusable"
	ModeClaimedRestored RecordMode = "claimed_restored"
	ModeCreated         RecordMode = "created"
	ModeAlreadyRecorded RecordMode = "already_recorded"
)

type CheckResult struct {
	CanUse      bool              `json:"can_use"`
	Reason      string            `json:"reason,omitempty"`
	Code        billing.ErrorKind `json:"code,omitempty"`
	IsDevCoupon bool              `json:"is_dev_coupon"`
	Config      *coupon.Config    `json:"-"`
}

func (r CheckResult) Err(code string) error {
	if r.CanUse {
		return nil
	}
	return billing.NewError(r.Code, coupon.NormalizeCode(code), r.Reason)
}

type RecordInput struct {
	UserID      int64
	CouponCode  string
	Context     coupon.UsageContext
	Target      coupon.Target
	IsDevCoupon bool
	// Reusable coupons are not limited per user and leave no usage row.
	Reusable bool
}

type RecordResult struct {
	OK   bool       `json:"ok"`
	Mode RecordMode `json:"mode"`
}

type RestoreResult struct {
	Restored   bool   `json:"restored"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// Ledger keeps one usage row per (user, coupon, context) and moves it
// between used and restored.
type Ledger struct {
	repo     *coupon.Repository
	registry *Registry
	devGate  *DevGate
	logger   zerolog.Logger
	now      func() time.Time
}

func NewLedger(repo *coupon.Repository, registry *Registry, devGate *DevGate, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, registry: registry, devGate: devGate, logger: logger, now: time.Now}
}

// CheckCouponUsage says whether userID may spend code in usageCtx. The dev
// gate runs before, and instead of, the usage rows.
func (l *Ledger) CheckCouponUsage(ctx context.Context, userID int64, code string, usageCtx coupon.UsageContext, email string) (CheckResult, error) {
	normalized := coupon.NormalizeCode(code)
	cfg := l.registry.GetCouponInfo(ctx, normalized)
	if cfg == nil {
		return CheckResult{Code: billing.KindCouponInvalid, Reason: "coupon is invalid or expired"}, nil
	}

	if cfg.IsDevCoupon {
		if !l.devGate.Allows(email) {
			l.logger.Warn().Int64("user_id", userID).Str("coupon_code", normalized).Msg("dev coupon blocked")
			return CheckResult{Code: billing.KindDevCouponBlocked, Reason: "test coupons are not available", IsDevCoupon: true, Config: cfg}, nil
		}
		return CheckResult{CanUse: true, IsDevCoupon: true, Config: cfg}, nil
	}
	if !cfg.SingleUsePerUser {
		return CheckResult{CanUse: true, Config: cfg}, nil
	}

	usage, err := l.repo.FindUsage(ctx, userID, normalized, usageCtx)
	if err != nil {
		return CheckResult{}, err
	}
	if usage != nil && usage.Status == coupon.UsageUsed {
		return CheckResult{Code: billing.KindCouponAlreadyUsed, Reason: "coupon already used", Config: cfg}, nil
	}
	return CheckResult{CanUse: true, Config: cfg}, nil
}

// RecordCouponUsageIdempotent attaches the coupon to in.Target inside tx.
// A lost insert race comes back as *coupon.UsageConflictError and must
// abort tx; nothing else may run on it.
func (l *Ledger) RecordCouponUsageIdempotent(ctx context.Context, tx *gorm.DB, in RecordInput) (RecordResult, error) {
	if in.IsDevCoupon {
		return RecordResult{OK: true, Mode: ModeSkippedDev}, nil
	}
	if in.Reusable {
		return RecordResult{OK: true, Mode: ModeSkippedReusable}, nil
	}

	code := coupon.NormalizeCode(in.CouponCode)
	repo := l.repo.WithTx(tx)

	claimed, err := repo.ClaimRestored(ctx, in.UserID, code, in.Context, in.Target)
	if err != nil {
		return RecordResult{}, err
	}
	if claimed {
		return RecordResult{OK: true, Mode: ModeClaimedRestored}, nil
	}

	usage := &coupon.Usage{
		UserID:     in.UserID,
		CouponCode: code,
		Context:    in.Context,
		Status:     coupon.UsageUsed,
		BookingID:  in.Target.BookingID,
		CreditID:   in.Target.CreditID,
	}
	if err := repo.InsertUsage(ctx, usage); err != nil {
		if dberr.IsUniqueViolation(err) {
			return RecordResult{}, &coupon.UsageConflictError{UserID: in.UserID, CouponCode: code, Context: in.Context, Err: err}
		}
		return RecordResult{}, err
	}
	return RecordResult{OK: true, Mode: ModeCreated}, nil
}

// RestoreCouponUsage frees the coupon attached to target. A paid target
// keeps its coupon forever.
func (l *Ledger) RestoreCouponUsage(ctx context.Context, tx *gorm.DB, target coupon.Target, wasPaid bool) (RestoreResult, error) {
	if wasPaid || target.IsZero() {
		return RestoreResult{}, nil
	}

	usage, err := l.repo.WithTx(tx).RestoreByTarget(ctx, target, l.now().UTC())
	if err != nil {
		return RestoreResult{}, err
	}
	if usage == nil {
		return RestoreResult{}, nil
	}
	return RestoreResult{Restored: true, CouponCode: usage.CouponCode}, nil
}

// ResolveConflict classifies a lost usage race with a fresh read. Call it
// only after the failed transaction has been rolled back. The same target
// is an idempotent success; any other owner is CouponAlreadyUsed.
func (l *Ledger) ResolveConflict(ctx context.Context, conflict *coupon.UsageConflictError, target coupon.Target) (RecordResult, error) {
	usage, err := l.repo.FindUsage(ctx, conflict.UserID, conflict.CouponCode, conflict.Context)
	if err != nil {
		return RecordResult{}, err
	}
	if usage == nil || usage.Status != coupon.UsageUsed {
		return RecordResult{}, ErrConflictUnresolved
	}
	if !target.IsZero() && target.Matches(usage) {
		return RecordResult{OK: true, Mode: ModeAlreadyRecorded}, nil
	}

	l.logger.Info().
		Int64("user_id", conflict.UserID).
		Str("coupon_code", conflict.CouponCode).
		Str("context", string(conflict.Context)).
		Msg("coupon usage race lost to a different target")
	return RecordResult{}, billing.NewError(billing.KindCouponAlreadyUsed, conflict.CouponCode, "coupon already used")
}
