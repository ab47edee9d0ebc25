package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/farellandr/orderpay/internal/helpers"
	"github.com/farellandr/orderpay/internal/loyalty"
	"github.com/farellandr/orderpay/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CreateAccountRequest struct {
	UserID uuid.UUID `json:"userId"`
}

type UpdateAccountRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

type AddPointsRequest struct {
	UserID      uuid.UUID       `json:"userId"`
	Points      int64           `json:"points" binding:"required,min=1"`
	Reason      string          `json:"reason" binding:"required,max=100"`
	ReferenceID string          `json:"referenceId"`
	Metadata    json.RawMessage `json:"metadata"`
}

type RedeemPointsRequest struct {
	UserID         uuid.UUID       `json:"userId"`
	Points         int64           `json:"points" binding:"required,min=1"`
	RewardType     string          `json:"rewardType" binding:"required,max=100"`
	RewardMetadata json.RawMessage `json:"rewardMetadata"`
}

type LoyaltyHandler struct {
	db     *gorm.DB
	ledger *loyalty.Ledger
}

func NewLoyaltyHandler(db *gorm.DB, ledger *loyalty.Ledger) *LoyaltyHandler {
	return &LoyaltyHandler{db: db, ledger: ledger}
}

func (h *LoyaltyHandler) CreateAccount(c *gin.Context) {
	var accountReq CreateAccountRequest
	if err := c.ShouldBindJSON(&accountReq); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	userID, ok := resolveUserID(c, accountReq.UserID)
	if !ok {
		return
	}

	account, created, err := h.ledger.CreateAccount(h.db.WithContext(c.Request.Context()), userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, account)
}

func (h *LoyaltyHandler) ListAccounts(c *gin.Context) {
	activeOnly, err := helpers.ParseBoolQuery(c, "active", false)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	filter := loyalty.AccountFilter{ActiveOnly: activeOnly}
	if userID, ok := middleware.GetUserID(c); ok {
		filter.UserID = &userID
	}
	if tier := c.Query("tier"); tier != "" {
		filter.Tier, err = loyalty.ParseTier(tier)
		if err != nil {
			helpers.RespondWithAppError(c, err)
			return
		}
	}

	accounts, err := h.ledger.ListAccounts(h.db.WithContext(c.Request.Context()), filter)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

func (h *LoyaltyHandler) GetAccount(c *gin.Context) {
	accountID, err := helpers.ParseUUIDParam(c, "id")
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	account, err := h.ledger.GetAccount(h.db.WithContext(c.Request.Context()), accountID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if !authorizeOwner(c, &account.UserID) {
		return
	}

	c.JSON(http.StatusOK, account)
}

func (h *LoyaltyHandler) UpdateAccount(c *gin.Context) {
	accountID, err := helpers.ParseUUIDParam(c, "id")
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	var updateReq UpdateAccountRequest
	if err := c.ShouldBindJSON(&updateReq); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	db := h.db.WithContext(c.Request.Context())
	existing, err := h.ledger.GetAccount(db, accountID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}
	if !authorizeOwner(c, &existing.UserID) {
		return
	}

	account, err := h.ledger.SetActive(db, accountID, *updateReq.IsActive)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (h *LoyaltyHandler) GetUserAccount(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}

	account, err := h.ledger.GetAccountByUser(h.db.WithContext(c.Request.Context()), userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (h *LoyaltyHandler) GetUserBalance(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}

	account, err := h.ledger.GetAccountByUser(h.db.WithContext(c.Request.Context()), userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":        account.UserID,
		"pointsBalance": account.PointsBalance,
		"tier":          account.Tier,
		"isActive":      account.IsActive,
	})
}

func (h *LoyaltyHandler) GetUserDetails(c *gin.Context) {
	userID, ok := h.userParam(c)
	if !ok {
		return
	}

	details, err := h.ledger.Details(h.db.WithContext(c.Request.Context()), userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *LoyaltyHandler) AddPoints(c *gin.Context) {
	var pointsReq AddPointsRequest
	if err := c.ShouldBindJSON(&pointsReq); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	if loyalty.IsReservedReason(pointsReq.Reason) {
		helpers.RespondWithError(c, http.StatusBadRequest, "Reason \""+pointsReq.Reason+"\" is reserved.")
		return
	}

	userID, ok := resolveUserID(c, pointsReq.UserID)
	if !ok {
		return
	}

	result, err := h.ledger.AddPoints(h.db.WithContext(c.Request.Context()), loyalty.AddPointsRequest{
		UserID:      userID,
		Points:      pointsReq.Points,
		Reason:      pointsReq.Reason,
		ReferenceID: pointsReq.ReferenceID,
		Metadata:    pointsReq.Metadata,
	})
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	respondWithLedgerResult(c, result)
}

func (h *LoyaltyHandler) RedeemPoints(c *gin.Context) {
	var redeemReq RedeemPointsRequest
	if err := c.ShouldBindJSON(&redeemReq); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	userID, ok := resolveUserID(c, redeemReq.UserID)
	if !ok {
		return
	}

	result, err := h.ledger.RedeemPoints(h.db.WithContext(c.Request.Context()), loyalty.RedeemPointsRequest{
		UserID:         userID,
		Points:         redeemReq.Points,
		RewardType:     redeemReq.RewardType,
		RewardMetadata: redeemReq.RewardMetadata,
	})
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	respondWithLedgerResult(c, result)
}

func (h *LoyaltyHandler) userParam(c *gin.Context) (uuid.UUID, bool) {
	userID, err := helpers.ParseUUIDParam(c, "userId")
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return uuid.Nil, false
	}
	if !authorizeOwner(c, &userID) {
		return uuid.Nil, false
	}
	return userID, true
}

func respondWithLedgerResult(c *gin.Context, result loyalty.Result) {
	switch result.Outcome {
	case loyalty.Applied:
		c.JSON(http.StatusOK, gin.H{
			"outcome":     result.Outcome.String(),
			"account":     result.Account,
			"transaction": result.Transaction,
			"redemption":  result.Redemption,
		})
	case loyalty.AlreadyApplied:
		helpers.RespondWithError(c, http.StatusConflict, "Points for this reference have already been applied.")
	case loyalty.InsufficientPoints:
		helpers.RespondWithError(c, http.StatusConflict, "Insufficient points balance.")
	case loyalty.AccountInactive:
		helpers.RespondWithError(c, http.StatusForbidden, "Loyalty account is inactive.")
	default:
		helpers.RespondWithError(c, http.StatusInternalServerError, "Something went wrong. Please try again later.")
	}
}
