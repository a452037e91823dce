// Package coupon resolves coupon codes and tracks their consumption.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"coworking/internal/domain/billing"
	"coworking/internal/domain/coupon"
	"coworking/internal/modules/discount"
)

var (
	// ErrNotResolved passes the code on to the next resolver.
	ErrNotResolved = errors.New("coupon not resolved by this source")
	// ErrRejected stops the chain: the source knows the code and refuses it.
	ErrRejected = errors.New("coupon rejected by source")
)

// Resolver is one link of the registry chain. Any other error means the
// source is unavailable and the chain moves on.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*coupon.Config, error)
}

type couponStore interface {
	GetByCode(ctx context.Context, code string) (*coupon.Coupon, error)
}

// StoreResolver reads persisted coupons and enforces their activation
// window and global usage cap.
type StoreResolver struct {
	store couponStore
	now   func() time.Time
}

func NewStoreResolver(store couponStore) *StoreResolver {
	return &StoreResolver{store: store, now: time.Now}
}

func (r *StoreResolver) Resolve(ctx context.Context, code string) (*coupon.Config, error) {
	c, err := r.store.GetByCode(ctx, code)
	if errors.Is(err, coupon.ErrNotFound) {
		return nil, ErrNotResolved
	}
	if err != nil {
		return nil, fmt.Errorf("coupon store: %w", err)
	}
	if !c.UsableAt(r.now()) {
		return nil, ErrRejected
	}
	return c.Config(), nil
}

// FallbackResolver serves the built-in legacy and dev codes.
type FallbackResolver struct {
	table map[string]coupon.Config
}

func NewFallbackResolver(table map[string]coupon.Config) *FallbackResolver {
	return &FallbackResolver{table: table}
}

func (r *FallbackResolver) Resolve(_ context.Context, code string) (*coupon.Config, error) {
	cfg, ok := r.table[code]
	if !ok {
		return nil, ErrNotResolved
	}
	cfg.Code = code
	cfg.Source = coupon.SourceFallback
	return &cfg, nil
}

func int64Ptr(v int64) *int64 { return &v }

// DefaultFallbackTable lists the codes honoured when the store has no entry.
func DefaultFallbackTable() map[string]coupon.Config {
	return map[string]coupon.Config{
		"PRIMEIRACOMPRA": {DiscountType: coupon.DiscountPercent, Value: 15, Description: "15% off the first booking", SingleUsePerUser: true},
		"BEMVINDO10":     {DiscountType: coupon.DiscountPercent, Value: 10, Description: "10% welcome discount", SingleUsePerUser: true},
		"VOLTE20":        {DiscountType: coupon.DiscountFixed, Value: 2000, Description: "20 off bookings from 50", SingleUsePerUser: true, MinAmountCents: int64Ptr(5000)},
		"TESTE50":        {DiscountType: coupon.DiscountPercent, Value: 50, Description: "test coupon, 50% off", IsDevCoupon: true},
		"TESTE1REAL":     {DiscountType: coupon.DiscountPriceOverride, Value: 100, Description: "test coupon, charge the gateway minimum", IsDevCoupon: true},
	}
}

// Registry walks its resolvers in order; the first answer wins.
type Registry struct {
	enabled   bool
	resolvers []Resolver
	logger    zerolog.Logger
}

func NewRegistry(enabled bool, logger zerolog.Logger, resolvers ...Resolver) *Registry {
	return &Registry{enabled: enabled, resolvers: resolvers, logger: logger}
}

// GetCouponInfo returns nil for unknown, inactive, expired, not yet valid
// and exhausted codes alike.
func (r *Registry) GetCouponInfo(ctx context.Context, code string) *coupon.Config {
	if !r.enabled {
		return nil
	}
	normalized := coupon.NormalizeCode(code)
	if normalized == "" {
		return nil
	}

	for _, res := range r.resolvers {
		cfg, err := res.Resolve(ctx, normalized)
		switch {
		case err == nil:
			return cfg
		case errors.Is(err, ErrNotResolved):
			continue
		case errors.Is(err, ErrRejected):
			return nil
		default:
			r.logger.Warn().Err(err).Str("coupon_code", normalized).Msg("coupon source unavailable, trying next")
		}
	}
	return nil
}

// Quote is the outcome of pricing an amount with a user-supplied code.
type Quote struct {
	discount.Result
	CouponCode string            `json:"coupon_code,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Code       billing.ErrorKind `json:"code,omitempty"`
	Config     *coupon.Config    `json:"-"`
}

// ApplyDiscount resolves code and prices amount with it. Problems with the
// coupon are reported on the quote, never as errors.
func (r *Registry) ApplyDiscount(ctx context.Context, amount int64, code string) Quote {
	normalized := coupon.NormalizeCode(code)
	if normalized == "" {
		return Quote{Result: discount.Apply(amount, nil)}
	}

	cfg := r.GetCouponInfo(ctx, normalized)
	if cfg == nil {
		return Quote{
			Result:     discount.Apply(amount, nil),
			CouponCode: normalized,
			Reason:     "coupon is invalid or expired",
			Code:       billing.KindCouponInvalid,
		}
	}
	if cfg.MinAmountCents != nil && amount < *cfg.MinAmountCents {
		return Quote{
			Result:     discount.Apply(amount, nil),
			CouponCode: normalized,
			Reason:     fmt.Sprintf("coupon requires a minimum of %d cents", *cfg.MinAmountCents),
			Code:       billing.KindCouponMinAmountNotMet,
			Config:     cfg,
		}
	}
	return Quote{Result: discount.Apply(amount, cfg), CouponCode: normalized, Config: cfg}
}

// Err returns the coded error behind a quote that did not apply its coupon.
func (q Quote) Err() error {
	if q.Code == "" {
		return nil
	}
	return billing.NewError(q.Code, q.CouponCode, q.Reason)
}
