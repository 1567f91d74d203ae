package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

type ClientIPOptions struct {
	// TrustedHops is the number of reverse proxies in front of the server.
	// 0 ignores X-Forwarded-For, 1 takes its last entry, 2 the one before.
	TrustedHops int
}

// ClientIP resolves the caller address with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions resolves the caller address and stores it in the
// request context for logging and rate limiting.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// resolveClientIP only honours X-Forwarded-For when the peer is a private
// address and proxies are configured. Forwarded headers that are not
// trusted are removed so later stages cannot read them by accident.
func resolveClientIP(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return "0.0.0.0"
	}

	if (!ip.IsPrivate() && !ip.IsLoopback()) || trustedHops <= 0 {
		dropForwarded(r.Header)
		return peer
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return peer
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer hops than configured proxies
		dropForwarded(r.Header)
		return peer
	}
	if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
		return candidate
	}
	return peer
}

func dropForwarded(h http.Header) {
	h.Del("X-Forwarded-For")
	h.Del("X-Forwarded-Proto")
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
