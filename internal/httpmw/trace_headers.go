package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader carries the request's trace id back to the client. CORS
// exposes it alongside RequestIDHeader.
const TraceIDHeader = "X-Trace-Id"

// TraceID echoes the active trace id so a browser error report can be
// matched to server logs and spans. Untraced requests get no header.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tid := trace.SpanContextFromContext(r.Context()).TraceID(); tid.IsValid() {
			w.Header().Set(TraceIDHeader, tid.String())
		}
		next.ServeHTTP(w, r)
	})
}
