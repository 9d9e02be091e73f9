package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
)

// ConcurrencyLimit caps in-flight requests at maxWorkers. A request that
// finds the pool full is rejected at once with 503 instead of queueing.
func ConcurrencyLimit(maxWorkers int) gin.HandlerFunc {
	semaphore := make(chan struct{}, maxWorkers)
	logger.Infof("Worker pool initialized with %d max concurrent workers", maxWorkers)

	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			logger.Warningf("No workers available, rejecting %s %s (pool full)", c.Request.Method, c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Busy", "message": "server busy, retry shortly"})
		}
	}
}

// RequestLog logs every request at verbosity 1 and failures always.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			logger.Errorf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
			return
		}
		logger.V(1).Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}
