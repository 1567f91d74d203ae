// Package opshttp serves metrics, health probes and pprof on a separate
// listener that is only reachable from private networks.
package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// NewHandler builds the ops mux without binding a listener.
func NewHandler(L log.Logger, opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /-/healthy", probeHandler(opts.Health, "ok"))
	mux.Handle("GET /-/ready", probeHandler(opts.Readiness, "ready"))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.EnablePprof {
		RegisterPprof(mux)
	}
	return httpmw.Chain(mux,
		httpmw.Recover(L, opts.OnPanic, nil),
		func(next http.Handler) http.Handler { return requireNonPublicNetwork(L, next) },
	)
}

// Start binds the ops listener and serves in the background. The returned
// stop is idempotent.
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// profile and trace endpoints stream for up to 30s by default
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on ops addr=%s", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	return func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}, nil
}

// requireNonPublicNetwork rejects peers outside loopback, private and
// link-local ranges.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		ip := net.ParseIP(host)
		if err != nil || ip == nil || !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
			L.Warn(r.Context(), "ops request from public network rejected", "remote_addr", r.RemoteAddr, "url.path", r.URL.Path)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
