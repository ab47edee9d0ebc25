package handlers

import (
	"net/http"

	"github.com/farellandr/orderpay/internal/helpers"
	"github.com/farellandr/orderpay/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// resolveUserID picks the acting user. An authenticated caller may only act
// as themselves; without authentication the id from the request is used.
// On false the response has already been written.
func resolveUserID(c *gin.Context, requested uuid.UUID) (uuid.UUID, bool) {
	authenticated, ok := middleware.GetUserID(c)
	if !ok {
		if requested == uuid.Nil {
			helpers.RespondWithError(c, http.StatusBadRequest, "userId is required.")
			return uuid.Nil, false
		}
		return requested, true
	}
	if requested != uuid.Nil && requested != authenticated {
		helpers.RespondWithError(c, http.StatusForbidden, "You cannot act on behalf of another user.")
		return uuid.Nil, false
	}
	return authenticated, true
}

// authorizeOwner rejects authenticated callers reading another user's data.
func authorizeOwner(c *gin.Context, owner *uuid.UUID) bool {
	authenticated, ok := middleware.GetUserID(c)
	if !ok {
		return true
	}
	if owner == nil || *owner != authenticated {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to access this resource.")
		return false
	}
	return true
}
