package api

import (
	"errors"
	"net/http"
	"newsletter/internal/service"
	v1 "newsletter/pkg/api/v1"
	"newsletter/pkg/constraints"
	"newsletter/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// inFlightRetryAfter is the Retry-After hint, in seconds, for ErrRequestInFlight.
const inFlightRetryAfter = "1"

func writeError(c *gin.Context, err error) {
	if ve, ok := service.AsValidation(err); ok {
		c.JSON(http.StatusBadRequest, v1.ErrorResponse{Error: ve.Error(), Field: ve.Field})
		return
	}
	switch {
	case errors.Is(err, service.ErrRequestInFlight):
		c.Header(constraints.HeaderRetryAfter, inFlightRetryAfter)
		c.JSON(http.StatusConflict, v1.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrIssueNotFound):
		c.JSON(http.StatusNotFound, v1.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, v1.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrUnknownToken):
		c.JSON(http.StatusUnauthorized, v1.ErrorResponse{Error: err.Error()})
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", c.GetString("TraceID")),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, v1.ErrorResponse{Error: "internal server error"})
	}
}
