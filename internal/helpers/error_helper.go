package helpers

import (
	"net/http"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func HTTPStatusText(code int) string {
	return http.StatusText(code)
}

func RespondWithError(c *gin.Context, statusCode int, customMessage string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   HTTPStatusText(statusCode),
		Message: customMessage,
	})
}

func StatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation, apperrors.KindSignatureInvalid:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict, apperrors.KindInsufficientPoints:
		return http.StatusConflict
	case apperrors.KindAccountInactive:
		return http.StatusForbidden
	case apperrors.KindProviderTransient, apperrors.KindProviderPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithAppError writes err using the status of its kind. Internal
// errors get a generic message.
func RespondWithAppError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := StatusForKind(kind)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		RespondWithError(c, status, "Something went wrong. Please try again later.")
		return
	}
	RespondWithError(c, status, err.Error())
}
