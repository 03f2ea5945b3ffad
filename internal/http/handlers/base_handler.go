// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"afyaride/internal/modules/location"
	"afyaride/internal/modules/pricing"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Retry  bool   `json:"retry,omitempty"`
}

// isValidID accepts the ids issued by the mobile clients: up to 64 letters,
// digits, dashes or underscores.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeLocationError maps location and pricing errors onto HTTP statuses.
// Denied and timed-out acquisitions carry retry=true so the client can offer a
// retry action instead of showing a substituted position.
func writeLocationError(c *gin.Context, err error) {
	var le *location.LocationError
	if errors.As(err, &le) {
		status := http.StatusServiceUnavailable
		switch le.Reason {
		case location.ReasonDenied:
			status = http.StatusForbidden
		case location.ReasonTimeout:
			status = http.StatusGatewayTimeout
		}
		writeJSON(c, status, errorResponse{
			Error:  le.Error(),
			Reason: string(le.Reason),
			Retry:  le.Reason == location.ReasonDenied || le.Reason == location.ReasonTimeout,
		})
		return
	}

	switch {
	case errors.Is(err, location.ErrInvalidCoordinate),
		errors.Is(err, location.ErrInvalidUpdate),
		errors.Is(err, pricing.ErrInvalidDistance):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, location.ErrNoStore):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, location.ErrGeocode):
		writeError(c, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "request timed out")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
