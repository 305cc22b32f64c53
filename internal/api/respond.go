// Package api serves the inbox REST surface used by the dashboard.
package api

import (
	"strconv"

	apperrors "whatsapp-crm/internal/errors"

	"github.com/gin-gonic/gin"
)

// respondError writes err as the structured error body with its mapped status.
func respondError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatusCode(err), apperrors.ToHTTPResponse(err))
}

func parseID(field, raw string) (uint, error) {
	if raw == "" {
		return 0, apperrors.NewValidationError(field, "is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.NewValidationError(field, "must be a positive integer")
	}
	return uint(id), nil
}
