package handlers

import (
	"net/http"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/farellandr/orderpay/internal/helpers"
	"github.com/farellandr/orderpay/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MockHandler stands in for the hosted checkout page and the provider's
// webhook sender when the mock provider is configured. Completed and expired
// sessions are delivered as signed events through the webhook processor.
type MockHandler struct {
	provider  *checkout.MockProvider
	processor *webhook.Processor
	signer    *helpers.WebhookSignatureGenerator
}

func NewMockHandler(provider *checkout.MockProvider, processor *webhook.Processor, webhookSecret string) *MockHandler {
	return &MockHandler{
		provider:  provider,
		processor: processor,
		signer:    helpers.NewWebhookSignatureGenerator(webhookSecret),
	}
}

func (h *MockHandler) GetCheckoutPage(c *gin.Context) {
	session, err := h.provider.GetSession(c.Request.Context(), c.Param("id"))
	if apperrors.Is(err, apperrors.KindProviderPermanent) {
		helpers.RespondWithError(c, http.StatusNotFound, "Checkout session not found.")
		return
	}
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"orderId":   session.OrderID,
		"paid":      session.Paid,
		"expired":   session.Expired,
	})
}

func (h *MockHandler) CompleteSession(c *gin.Context) {
	session, err := h.provider.Complete(c.Param("id"))
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	h.deliver(c, webhook.EventCheckoutSessionCompleted, session)
}

func (h *MockHandler) ExpireSession(c *gin.Context) {
	session, err := h.provider.Expire(c.Param("id"))
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	h.deliver(c, webhook.EventCheckoutSessionExpired, session)
}

func (h *MockHandler) deliver(c *gin.Context, eventType string, session *checkout.Session) {
	payload, err := webhook.EncodeEvent("evt_mock_"+uuid.NewString(), eventType, session.Raw)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	result, err := h.processor.HandleEvent(c.Request.Context(), payload, h.signer.GenerateHeader(payload))
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        result.Outcome.String(),
		"eventId":       result.EventID,
		"paymentId":     result.PaymentID,
		"paymentStatus": result.Status,
		"pointsAwarded": result.PointsAwarded,
		"reason":        result.Reason,
	})
}
