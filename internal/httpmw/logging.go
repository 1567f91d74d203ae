package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/insightdash/internal/log"
)

// statusRecorder captures status and bytes written, and times the write
// phase of the response in a child span when the request is traced.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx        context.Context
	start      time.Time
	writeSpan  trace.Span
	spanOpened bool
	writeErr   error
}

func (rw *statusRecorder) openWriteSpan() {
	if rw.spanOpened {
		return
	}
	rw.spanOpened = true
	parent := trace.SpanFromContext(rw.ctx)
	if !parent.IsRecording() {
		return
	}
	_, rw.writeSpan = otel.Tracer("insightdash/httpmw").Start(rw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(rw.start).Seconds())),
	)
}

func (rw *statusRecorder) closeWriteSpan() {
	if rw.writeSpan == nil {
		return
	}
	rw.writeSpan.SetAttributes(
		attribute.Int("http.response.status_code", rw.code()),
		attribute.Int64("http.response.body.size", rw.bytes),
	)
	if rw.writeErr != nil {
		rw.writeSpan.RecordError(rw.writeErr)
		rw.writeSpan.SetStatus(codes.Error, rw.writeErr.Error())
	}
	rw.writeSpan.End()
}

func (rw *statusRecorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.openWriteSpan()
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.openWriteSpan()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	if err != nil && rw.writeErr == nil {
		rw.writeErr = err
	}
	return n, err
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// WithLogger stores a request scoped logger carrying request id, client
// address, method and path in the request context.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peerHost(r.RemoteAddr)
			}

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("url.scheme", schemeFromRequest(r)),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// RequestLog writes one line per completed request: method, path,
// status, duration and size. Only installed when request logging is
// enabled for the environment. A panic unwinding through it is logged as
// a 500, the status Recover answers with, and then re-raised.
func RequestLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			// the path as received, before any prefix stripping downstream
			method, path := r.Method, r.URL.Path

			rw := &statusRecorder{ResponseWriter: w, ctx: r.Context(), start: start}
			defer func() {
				rec := recover()
				rw.closeWriteSpan()

				status := rw.code()
				if rec != nil && rw.status == 0 {
					status = http.StatusInternalServerError
				}
				ctx := r.Context()
				kv := []any{
					"http.request.method", method,
					"url.path", path,
					"http.response.status_code", status,
					"http.server.request.duration", time.Since(start).Seconds(),
					"http.response.body.size", rw.bytes,
				}
				if rc := chi.RouteContext(ctx); rc != nil {
					if pat := rc.RoutePattern(); pat != "" {
						kv = append(kv, "http.route", pat)
					}
				}
				log.FromContext(ctx).Info(ctx, method+" "+path, kv...)

				if rec != nil {
					panic(rec)
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

func peerHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		return strings.TrimSpace(first)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with a handler name.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
