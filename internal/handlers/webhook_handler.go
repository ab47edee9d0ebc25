package handlers

import (
	"net/http"

	"github.com/farellandr/orderpay/internal/helpers"
	"github.com/farellandr/orderpay/internal/webhook"
	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 16

type WebhookHandler struct {
	processor *webhook.Processor
}

func NewWebhookHandler(processor *webhook.Processor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// HandleWebhook acknowledges every event that verified, including the ones
// that changed nothing. Only a bad signature or a failed write is reported
// back, and both make the provider retry.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := c.GetRawData()
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Unable to read request body.")
		return
	}

	result, err := h.processor.HandleEvent(c.Request.Context(), payload, c.GetHeader(helpers.WebhookSignatureHeader))
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if result.Outcome == webhook.SignatureInvalid {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid webhook signature.")
		return
	}

	response := gin.H{
		"status":  result.Outcome.String(),
		"eventId": result.EventID,
	}
	if result.Reason != "" {
		response["reason"] = result.Reason
	}
	c.JSON(http.StatusOK, response)
}
