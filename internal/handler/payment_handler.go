package handler

import (
	"crypto/hmac"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/service"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
	"github.com/lessonloop/lessonloop-api/pkg/response"
)

const webhookSecretHeader = "X-Webhook-Secret"

// PaymentWebhookPayload is the notification body sent by the payment
// provider once a checkout settles.
type PaymentWebhookPayload struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
	ProviderRef    string `json:"provider_ref"`
	Status         string `json:"status" binding:"required"`
}

// PaymentHandler receives payment provider webhooks. Authentication is a
// shared secret header, not a user token; deliveries may repeat and must stay
// idempotent downstream.
type PaymentHandler struct {
	subscriptions *service.SubscriptionService
	secret        string
	logger        *zap.Logger
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(subscriptions *service.SubscriptionService, secret string, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{subscriptions: subscriptions, secret: secret, logger: logger}
}

// Webhook godoc
// @Summary Payment provider notification
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string true "Shared secret"
// @Param payload body handler.PaymentWebhookPayload true "Notification"
// @Success 200 {object} response.Envelope
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	if h.secret == "" || !hmac.Equal([]byte(c.GetHeader(webhookSecretHeader)), []byte(h.secret)) {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook secret"))
		return
	}

	var payload PaymentWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid webhook payload"))
		return
	}

	if payload.Status != "paid" {
		// Settlement failures and cancellations are acknowledged but do
		// not advance the subscription.
		h.logger.Info("ignoring non-settlement payment notification",
			zap.String("subscription_id", payload.SubscriptionID),
			zap.String("status", payload.Status))
		response.JSON(c, http.StatusOK, gin.H{"acknowledged": true}, nil)
		return
	}

	subscription, err := h.subscriptions.MarkPaymentReceived(c.Request.Context(), payload.SubscriptionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("payment recorded",
		zap.String("subscription_id", payload.SubscriptionID),
		zap.String("provider_ref", payload.ProviderRef))
	response.JSON(c, http.StatusOK, subscription, nil)
}
