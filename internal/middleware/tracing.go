package middleware

import (
	"net/http"

	"github.com/R3E-Network/neoguard/internal/logging"
)

// TracingMiddleware assigns every request a trace ID, honoring one the
// client already sent, and echoes it in the response headers.
type TracingMiddleware struct{}

// NewTracingMiddleware creates a tracing middleware.
func NewTracingMiddleware() *TracingMiddleware {
	return &TracingMiddleware{}
}

// Handler returns the middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
