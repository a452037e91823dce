package checkout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coworking/internal/domain/wallet"
	"coworking/internal/modules/override"
	"coworking/internal/pkg/response"
	"coworking/internal/pkg/validator"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/checkout/bookings", h.FinalizeBooking)
	rg.POST("/checkout/credits", h.FinalizeCreditPurchase)
	rg.POST("/bookings/:id/cancel", h.CancelBooking)
	rg.POST("/credit-purchases/:id/cancel", h.CancelCreditPurchase)
}

func (h *Handler) FinalizeBooking(c *gin.Context) {
	var req FinalizeBookingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	res, err := h.service.FinalizeBooking(c.Request.Context(), BookingInput{
		UserID:         c.GetInt64("user_id"),
		Email:          c.GetString("email"),
		Role:           c.GetString("role"),
		RequestID:      c.GetString("request_id"),
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
		RoomID:         req.RoomID,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		CouponCode:     req.CouponCode,
		UseCredits:     req.UseCredits,
		Override:       req.Override,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

func (h *Handler) FinalizeCreditPurchase(c *gin.Context) {
	var req FinalizeCreditPurchaseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	res, err := h.service.FinalizeCreditPurchase(c.Request.Context(), CreditPurchaseInput{
		UserID:         c.GetInt64("user_id"),
		Email:          c.GetString("email"),
		RequestID:      c.GetString("request_id"),
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
		CreditsAmount:  req.CreditsAmount,
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

func (h *Handler) CancelBooking(c *gin.Context) {
	id, req, ok := cancelParams(c)
	if !ok {
		return
	}
	res, err := h.service.CancelBooking(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) CancelCreditPurchase(c *gin.Context) {
	id, req, ok := cancelParams(c)
	if !ok {
		return
	}
	res, err := h.service.CancelCreditPurchase(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func actorFrom(c *gin.Context) Actor {
	return Actor{UserID: c.GetInt64("user_id"), Admin: c.GetString("role") == override.RoleAdmin}
}

func cancelParams(c *gin.Context) (int64, CancelRequest, bool) {
	var req CancelRequest
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "invalid id")
		return 0, req, false
	}
	// The body is optional.
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return 0, req, false
	}
	return id, req, true
}

func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return false
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", errs)
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		response.Error(c, http.StatusConflict, "INSUFFICIENT_CREDITS", "not enough credits")
		return
	}
	response.FromError(c, err)
}
