package httperr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/keithlinneman/insightdash/internal/log"
)

// ErrorHandler is implemented by the terminal stage. Middleware forwards
// failures to it instead of writing responses itself.
type ErrorHandler interface {
	ServeError(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFunc is a route handler that reports failure by returning an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type Options struct {
	Logger log.Logger
	// Development exposes the underlying error text on 5xx responses.
	Development bool
	// OnServerError is called for every 5xx written, e.g. to count SLI errors.
	OnServerError func(r *http.Request)
}

type Handler struct {
	logger        log.Logger
	dev           bool
	onServerError func(r *http.Request)
}

type body struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Handler{logger: opts.Logger, dev: opts.Development, onServerError: opts.OnServerError}
}

// ServeError writes the single error response for r.
func (h *Handler) ServeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	ctx := r.Context()
	L := log.FromContextOr(ctx, h.logger)
	he := From(err)

	// client went away: nothing to send
	if he.Status == StatusClientClosedRequest || errors.Is(ctx.Err(), context.Canceled) {
		L.Debug(ctx, "request abandoned by client", "error", err.Error())
		return
	}

	if Started(r) {
		L.Error(ctx, err, "error after response started, response left as is", "http.response.status_code", he.Status)
		return
	}
	markStarted(r)

	resp := body{Message: he.Message, Code: he.Code}
	if he.Status >= 500 {
		L.Error(ctx, err, "request failed", "http.response.status_code", he.Status)
		if h.onServerError != nil {
			h.onServerError(r)
		}
		if h.dev {
			resp.Error = err.Error()
		}
	} else {
		L.Debug(ctx, "request rejected", "http.response.status_code", he.Status, "reason", err.Error())
	}

	hdr := w.Header()
	hdr.Del("Content-Length")
	hdr.Del("Content-Encoding")
	hdr.Set("Content-Type", "application/json; charset=utf-8")
	hdr.Set("X-Content-Type-Options", "nosniff")
	if he.Status == http.StatusTooManyRequests && hdr.Get("Retry-After") == "" {
		hdr.Set("Retry-After", "30")
	}
	w.WriteHeader(he.Status)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Adapt converts fn into an http.Handler whose errors go to h.
func (h *Handler) Adapt(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			h.ServeError(w, r, err)
		}
	}
}

// NotFound is the terminal response for requests no stage claimed.
func (h *Handler) NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeError(w, r, NotFound("Cannot "+r.Method+" "+originalPath(r)))
	})
}

// originalPath is the path as the client sent it, before any mount prefix
// was stripped.
func originalPath(r *http.Request) string {
	if !strings.HasPrefix(r.RequestURI, "/") {
		return r.URL.Path
	}
	p, _, _ := strings.Cut(r.RequestURI, "?")
	if u, err := url.PathUnescape(p); err == nil {
		return u
	}
	return p
}
