package coupon

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coworking/internal/domain/coupon"
	"coworking/internal/pkg/dberr"
	"coworking/internal/pkg/response"
	"coworking/internal/pkg/validator"
)

type Handler struct {
	registry *Registry
	ledger   *Ledger
	store    *coupon.Repository
}

func NewHandler(registry *Registry, ledger *Ledger, store *coupon.Repository) *Handler {
	return &Handler{registry: registry, ledger: ledger, store: store}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/coupons/quote", h.Quote)
	rg.GET("/coupons/:code/check", h.Check)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/coupons", h.Create)
	rg.GET("/coupons", h.List)
	rg.PATCH("/coupons/:code/deactivate", h.Deactivate)
}

func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", errs)
		return
	}

	response.Success(c, http.StatusOK, h.registry.ApplyDiscount(c.Request.Context(), req.AmountCents, req.CouponCode))
}

func (h *Handler) Check(c *gin.Context) {
	usageCtx := coupon.UsageContext(c.DefaultQuery("context", string(coupon.ContextBooking)))
	if !usageCtx.Valid() {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "context must be booking or credit_purchase")
		return
	}

	res, err := h.ledger.CheckCouponUsage(c.Request.Context(), c.GetInt64("user_id"), c.Param("code"), usageCtx, c.GetString("email"))
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to check coupon")
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", errs)
		return
	}
	if req.DiscountType == string(coupon.DiscountPercent) && req.Value > 100 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "percent value must be at most 100")
		return
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "valid_until must not be before valid_from")
		return
	}

	singleUse := true
	if req.SingleUsePerUser != nil {
		singleUse = *req.SingleUsePerUser
	}
	cp := &coupon.Coupon{
		Code:             coupon.NormalizeCode(req.Code),
		DiscountType:     coupon.DiscountType(req.DiscountType),
		Value:            req.Value,
		Description:      req.Description,
		SingleUsePerUser: singleUse,
		IsDevCoupon:      req.IsDevCoupon,
		MinAmountCents:   req.MinAmountCents,
		IsActive:         true,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		MaxUses:          req.MaxUses,
	}
	if err := h.store.Create(c.Request.Context(), cp); err != nil {
		if dberr.IsUniqueViolation(err) {
			response.Error(c, http.StatusConflict, "COUPON_EXISTS", "coupon code already exists")
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create coupon")
		return
	}
	response.Success(c, http.StatusCreated, cp)
}

func (h *Handler) List(c *gin.Context) {
	coupons, err := h.store.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list coupons")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"coupons": coupons})
}

func (h *Handler) Deactivate(c *gin.Context) {
	changed, err := h.store.Deactivate(c.Request.Context(), coupon.NormalizeCode(c.Param("code")))
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to deactivate coupon")
		return
	}
	if !changed {
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "active coupon not found")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deactivated": true})
}
