// Package middleware holds the HTTP middleware of the status API.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/logger"
)

// TimeoutHandler sets the timeout in each request
type TimeoutHandler struct {
	timeout time.Duration
	logger  logger.Logger
}

// NewTimeoutHandler returns new TimeoutHandler that timeouts request if it
// exceeds the timeout value
func NewTimeoutHandler(timeout time.Duration, logger logger.Logger) *TimeoutHandler {
	return &TimeoutHandler{
		timeout: timeout,
		logger:  logger,
	}
}

// Middleware bounds the request context by the timeout. Handlers observe the deadline through
// the datastore calls they make with it.
func (h *TimeoutHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.timeout <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded {
			h.logger.Warn("request exceeded timeout", zap.String("path", c.FullPath()), zap.Duration("timeout", h.timeout))
		}
	}
}
