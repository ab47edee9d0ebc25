package helpers

import (
	"strconv"
	"strings"

	"github.com/farellandr/orderpay/internal/apperrors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.Validation("%s must be a valid UUID", name)
	}
	return id, nil
}

// ParseBoolQuery reads an optional boolean query parameter. A missing or
// empty value yields def.
func ParseBoolQuery(c *gin.Context, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return def, apperrors.Validation("%s must be true or false", name)
	}
	return value, nil
}
