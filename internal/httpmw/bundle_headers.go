package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BundleInfo reports the client bundle currently being served.
type BundleInfo interface {
	SHA256() string
}

const bundleHashHeaderLen = 12

// BundleHeaders stamps X-Content-Hash with the short digest of the active
// bundle and records the full digest on the request span. The bundle is
// read per request so a hot-swapped release shows up immediately. Disk
// bundles have no digest and get no header.
func BundleHeaders(info BundleInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sum := info.SHA256(); sum != "" {
				short := sum
				if len(short) > bundleHashHeaderLen {
					short = short[:bundleHashHeaderLen]
				}
				w.Header().Set("X-Content-Hash", short)
				if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
					span.SetAttributes(attribute.String("bundle.sha256", sum))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
