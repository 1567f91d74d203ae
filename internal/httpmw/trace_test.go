package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test"), sr
}

// spanned starts a server span around next, the way otelhttp would.
func spanned(tr trace.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tr.Start(r.Context(), "HTTP "+r.Method)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TestTraceID(t *testing.T) {
	tr, sr := newTestTracer(t)
	h := spanned(tr, TraceID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	if got, want := rec.Header().Get(TraceIDHeader), spans[0].SpanContext().TraceID().String(); got != want {
		t.Fatalf("%s = %q, want %q", TraceIDHeader, got, want)
	}
	if rec.Header().Get("X-Span-Id") != "" {
		t.Fatal("span id must not be exposed")
	}
}

func TestTraceID_NoSpan(t *testing.T) {
	h := TraceID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if _, ok := rec.Header()[TraceIDHeader]; ok {
		t.Fatalf("header set without a span: %v", rec.Header())
	}
}

func TestAnnotateHTTPRoute(t *testing.T) {
	tr, sr := newTestTracer(t)
	r := chi.NewRouter()
	r.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	h := spanned(tr, Chain(r, RouteContext, AnnotateHTTPRoute))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/42", http.NoBody))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "GET /users/{id}" {
		t.Fatalf("span name = %q", got)
	}
}

func TestAnnotateHTTPRoute_Unmatched(t *testing.T) {
	tr, sr := newTestTracer(t)
	h := spanned(tr, Chain(http.NotFoundHandler(), RouteContext, AnnotateHTTPRoute))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", http.NoBody))

	if got := sr.Ended()[0].Name(); got != "GET unmatched" {
		t.Fatalf("span name = %q", got)
	}
}

func TestRouteContext_KeepsExisting(t *testing.T) {
	rc := chi.NewRouteContext()
	var seen *chi.Context
	h := RouteContext(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = chi.RouteContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != rc {
		t.Fatal("existing route context replaced")
	}
}
