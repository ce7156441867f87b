// Package requestid tags every HTTP request with an identifier echoed in the response.
package requestid

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDKey      = "request_id"
	requestIDTraceKey = "request_id"

	// RequestIDHeader defines the HTTP header that is set in each HTTP response
	// for a given request. The value of the header is unique per request.
	RequestIDHeader = "X-Request-Id"
)

// InitID returns the ID to be used to identify the request.
// If trace is enabled, returns trace ID; otherwise returns a new ULID.
func InitID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.TraceID().IsValid() {
		return spanCtx.TraceID().String()
	}
	return ulid.Make().String()
}

// Middleware sets the request id header on the response and stores the id in the gin context
// for the logging middleware.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		requestID := InitID(ctx)

		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String(requestIDTraceKey, requestID))

		c.Next()
	}
}

// FromContext returns the request id set by Middleware.
func FromContext(c *gin.Context) (string, bool) {
	return c.GetString(requestIDKey), c.GetString(requestIDKey) != ""
}
