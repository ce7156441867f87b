// Package recovery turns panics in HTTP handlers into 500 responses.
package recovery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/segmentmapper/segmentmapper/pkg/logger"
)

const internalServerErrorMsg = "internal server error"

// HTTPPanicRecoveryHandler recover from panic for http services.
func HTTPPanicRecoveryHandler(next http.Handler, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				l.Error("HTTPPanicRecoveryHandler has recovered a panic",
					zap.Error(fmt.Errorf("%v", err)),
					zap.ByteString("stacktrace", debug.Stack()),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("content-type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)

				responseBody, err := json.Marshal(map[string]string{
					"code":    "internal_error",
					"message": internalServerErrorMsg,
				})
				if err != nil {
					return
				}

				_, _ = w.Write(responseBody)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
