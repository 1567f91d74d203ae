package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// NewHandler composes the request pipeline. Stages run in this order for
// every request:
//
//	response tracking, drain close, security headers, request id, client ip,
//	route context, recover, tracing, metrics, request logger,
//	dev request log, CORS, body parsing, compression, dispatch
//
// Dispatch tries the API groups in order, then the SPA, then answers 404.
// Every failure ends in opts.Errors.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	errs := opts.Errors
	if errs == nil {
		errs = httperr.NewHandler(httperr.Options{Logger: opts.Logger})
	}

	routes := make([]Route, 0, len(opts.Groups)+1)
	routes = append(routes, opts.Groups...)
	if opts.SPA != nil {
		routes = append(routes, SPA(httpmw.BundleHeaders(opts.Bundle)(opts.SPA)))
	}
	dispatch := NewDispatcher(errs.NotFound(), routes...)

	var reqLog func(http.Handler) http.Handler
	if opts.EnableRequestLogging {
		reqLog = httpmw.RequestLog()
	}

	return httpmw.Chain(dispatch,
		httperr.Track,
		httpmw.CloseWhenDraining(opts.Draining),
		httpmw.SecurityHeaders,
		httpmw.RequestID(httpmw.RequestIDHeader),
		httpmw.ClientIPWithOptions(opts.ClientIP),
		httpmw.RouteContext,
		httpmw.Recover(opts.Logger, opts.OnPanic, errs),
		tracing,
		httpmw.TraceID,
		httpmw.AnnotateHTTPRoute,
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
		reqLog,
		httpmw.CORS(httpmw.CORSOptions{AllowedOrigins: opts.AllowedOrigins, AllowCredentials: true}),
		httpmw.ParseBody(httpmw.BodyOptions{Limit: opts.MaxBodyBytes, Errors: errs}),
		middleware.Compress(5,
			"text/html",
			"text/css",
			"text/plain",
			"text/javascript",
			"application/javascript",
			"application/json",
			"image/svg+xml",
		),
	)
}

func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// renamed to the route pattern by AnnotateHTTPRoute
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// shouldTrace skips hashed bundle assets and browser chatter.
func shouldTrace(p string) bool {
	if p == "/favicon.ico" || p == "/robots.txt" {
		return false
	}
	if strings.HasPrefix(p, APIPrefix) {
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

const (
	DefaultPort              = 5000
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
	shutdownTimeout          = 10 * time.Second
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start binds opts.Port and serves the pipeline. A bind failure is
// returned before anything is logged as ready.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on port %d", port)
	}
	return Serve(ctx, ln, opts), nil
}

// Serve runs the pipeline on ln, logs the ready line and returns an
// idempotent stop(ctx) for graceful shutdown.
func Serve(ctx context.Context, ln net.Listener, opts Options) func(context.Context) error {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
		opts.Logger = L
	}
	srv := NewServer(ln.Addr().String(), NewHandler(opts))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()
	L.Info(ctx, fmt.Sprintf("server running on http://localhost:%d", listenPort(ln)), "addr", ln.Addr().String())

	var once sync.Once
	return func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, shutdownTimeout)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
}

func listenPort(ln net.Listener) int {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}
