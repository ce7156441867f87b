// Package logging logs one line per completed HTTP request.
package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/logger"
	"github.com/segmentmapper/segmentmapper/pkg/middleware/requestid"
)

const (
	httpMethodKey      = "http_method"
	httpRouteKey       = "http_route"
	httpStatusKey      = "http_status"
	requestIDKey       = "request_id"
	traceIDKey         = "trace_id"
	userAgentKey       = "user_agent"
	queryDurationKey   = "query_duration_ms"
	httpReqCompleteKey = "http_req_complete"
)

// Middleware logs every request once it completes. Server errors are logged at error level.
func Middleware(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String(httpMethodKey, c.Request.Method),
			zap.String(httpRouteKey, c.FullPath()),
			zap.Int(httpStatusKey, c.Writer.Status()),
			zap.Int64(queryDurationKey, time.Since(start).Milliseconds()),
		}

		if id, ok := requestid.FromContext(c); ok {
			fields = append(fields, zap.String(requestIDKey, id))
		}

		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		if spanCtx.HasTraceID() {
			fields = append(fields, zap.String(traceIDKey, spanCtx.TraceID().String()))
		}

		if userAgent := c.Request.UserAgent(); userAgent != "" {
			fields = append(fields, zap.String(userAgentKey, userAgent))
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= 500 {
			l.Error(httpReqCompleteKey, fields...)
			return
		}
		l.Info(httpReqCompleteKey, fields...)
	}
}
