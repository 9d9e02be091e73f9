package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/engine"
)

// statusFor maps a rejection to an HTTP status. Requests that can never
// succeed as sent are 422; requests refused because of the auction's current
// state are 409.
func statusFor(reason core.RejectionReason) int {
	switch reason {
	case core.ReasonInvalidAmount, core.ReasonBidNotProgressive, core.ReasonNotQualified, core.ReasonNoEntry:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusConflict
	}
}

func writeError(c *gin.Context, err error) {
	if reason, ok := core.ReasonOf(err); ok {
		c.JSON(statusFor(reason), gin.H{"error": reason, "message": err.Error()})
		return
	}
	if engine.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound", "message": err.Error()})
		return
	}
	logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal", "message": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": err.Error()})
}
