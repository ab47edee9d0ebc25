package handlers

import (
	"net/http"

	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/farellandr/orderpay/internal/helpers"
	"github.com/farellandr/orderpay/internal/payments"
	"github.com/farellandr/orderpay/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type LineItemRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int64           `json:"quantity" binding:"required,min=1"`
}

type CheckoutSessionRequest struct {
	OrderID        uuid.UUID         `json:"orderId" binding:"required"`
	UserID         uuid.UUID         `json:"userId"`
	LineItems      []LineItemRequest `json:"lineItems" binding:"required,min=1,dive"`
	SuccessURL     string            `json:"successUrl" binding:"required,url"`
	CancelURL      string            `json:"cancelUrl" binding:"required,url"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type CheckoutSessionResponse struct {
	SessionID  string    `json:"sessionId"`
	SessionURL string    `json:"sessionUrl"`
	PaymentID  uuid.UUID `json:"paymentId"`
}

type PaymentHandler struct {
	db           *gorm.DB
	orchestrator *checkout.Orchestrator
	ledger       *payments.Ledger
	processor    *webhook.Processor
}

func NewPaymentHandler(db *gorm.DB, orchestrator *checkout.Orchestrator, ledger *payments.Ledger, processor *webhook.Processor) *PaymentHandler {
	return &PaymentHandler{
		db:           db,
		orchestrator: orchestrator,
		ledger:       ledger,
		processor:    processor,
	}
}

func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	var sessionReq CheckoutSessionRequest
	if err := c.ShouldBindJSON(&sessionReq); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if key == "" {
		key = sessionReq.IdempotencyKey
	}
	if key == "" {
		helpers.RespondWithError(c, http.StatusBadRequest, "Idempotency key is required.")
		return
	}

	userID, ok := resolveUserID(c, sessionReq.UserID)
	if !ok {
		return
	}

	lineItems := make([]checkout.LineItem, 0, len(sessionReq.LineItems))
	for _, item := range sessionReq.LineItems {
		lineItems = append(lineItems, checkout.LineItem{
			Name:        item.Name,
			Description: item.Description,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		})
	}

	result, err := h.orchestrator.CreateCheckoutSession(c.Request.Context(), checkout.Request{
		OrderID:        sessionReq.OrderID,
		UserID:         userID,
		LineItems:      lineItems,
		SuccessURL:     sessionReq.SuccessURL,
		CancelURL:      sessionReq.CancelURL,
		IdempotencyKey: key,
	})
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	switch result.Outcome {
	case checkout.SessionCreated:
		c.JSON(http.StatusCreated, CheckoutSessionResponse{
			SessionID:  result.SessionID,
			SessionURL: result.SessionURL,
			PaymentID:  result.PaymentID,
		})
	case checkout.DuplicateRequest:
		helpers.RespondWithError(c, http.StatusConflict, "Duplicate request. This idempotency key has already been used.")
	case checkout.OrderNotPayable:
		helpers.RespondWithError(c, http.StatusUnprocessableEntity, "Order cannot be paid: "+result.Reason+".")
	default:
		helpers.RespondWithError(c, http.StatusBadGateway, "Payment provider error. Please retry with a new idempotency key.")
	}
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID, err := helpers.ParseUUIDParam(c, "id")
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	payment, err := h.ledger.Get(h.db.WithContext(c.Request.Context()), paymentID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if !authorizeOwner(c, payment.UserID) {
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetPaymentByOrder(c *gin.Context) {
	orderID, err := helpers.ParseUUIDParam(c, "orderId")
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	payment, err := h.ledger.GetByOrder(h.db.WithContext(c.Request.Context()), orderID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if !authorizeOwner(c, payment.UserID) {
		return
	}

	c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) ListPaymentsByUser(c *gin.Context) {
	userID, err := helpers.ParseUUIDParam(c, "userId")
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if !authorizeOwner(c, &userID) {
		return
	}

	paymentList, err := h.ledger.ListByUser(h.db.WithContext(c.Request.Context()), userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": paymentList,
		"total":    len(paymentList),
	})
}

func (h *PaymentHandler) VerifySession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		helpers.RespondWithError(c, http.StatusBadRequest, "Session ID is required.")
		return
	}

	db := h.db.WithContext(c.Request.Context())
	payment, err := h.ledger.GetByProviderPaymentID(db, sessionID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if !authorizeOwner(c, payment.UserID) {
		return
	}

	payment, err = h.processor.VerifySession(c.Request.Context(), sessionID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}
