package httpmw

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RouteName returns the matched route pattern, or "unmatched" so
// metric and span labels stay low cardinality.
func RouteName(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pat := rc.RoutePattern(); pat != "" {
			return pat
		}
	}
	return "unmatched"
}

// AnnotateHTTPRoute renames the server span after the matched route once
// the handler returns.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := RouteName(r)
		span.SetAttributes(attribute.String("http.route", route))
		span.SetName(r.Method + " " + route)
	})
}

// RouteContext installs an empty chi routing context before any router
// runs, so stages wrapped around the routers can read the pattern they
// matched.
func RouteContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.RouteContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
