package payment

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"coworking/internal/pkg/response"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	service *Service
	logger  zerolog.Logger
}

func NewHandler(service *Service, logger zerolog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterWebhookRoutes expects the group to carry the webhook token check.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/payments", h.Webhook)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/refunds/review", h.ListPendingReview)
}

// Webhook acknowledges every notification it could parse and store. A 500
// makes the gateway retry.
func (h *Handler) Webhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_PAYLOAD", "could not read request body")
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		h.logger.Warn().Err(err).Int("body_size", len(rawBody)).Msg("malformed gateway notification")
		response.Error(c, http.StatusBadRequest, "INVALID_PAYLOAD", "malformed JSON")
		return
	}

	res, err := h.service.HandleWebhook(c.Request.Context(), payload, string(rawBody))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) ListPendingReview(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	refunds, err := h.service.ListPendingReview(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, ReviewListResponse{Refunds: refunds, Count: len(refunds)})
}
