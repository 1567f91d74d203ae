package httpserver

import (
	"net/http"

	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// AllowedOrigins feeds the CORS stage; empty means any origin.
	AllowedOrigins []string
	// MaxBodyBytes bounds JSON and urlencoded bodies.
	MaxBodyBytes int64
	// EnableRequestLogging turns on one log line per request.
	EnableRequestLogging bool

	ClientIP httpmw.ClientIPOptions

	// Errors is the terminal stage. Built from Logger when nil.
	Errors *httperr.Handler

	// MetricsMW instruments requests; skipped when nil.
	MetricsMW func(http.Handler) http.Handler
	// OnPanic runs for every recovered panic.
	OnPanic func()
	// Draining, when it reports true, closes connections after each response.
	Draining func() bool

	// Groups are API route groups in registration order.
	Groups []Route
	// SPA serves every path outside APIPrefix.
	SPA http.Handler
	// Bundle labels SPA responses with the active bundle digest.
	Bundle httpmw.BundleInfo
}
