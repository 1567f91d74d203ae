// Package apihttp implements the JSON route groups mounted under /api:
// auth, analytics and admin. Each group is a chi router that sees paths
// with its mount prefix already stripped.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/insightdash/internal/authn"
	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/store"
)

// UserStore is the part of store.Users the routes use.
type UserStore interface {
	Create(ctx context.Context, u store.User) (store.User, error)
	ByEmail(ctx context.Context, email string) (store.User, error)
	ByID(ctx context.Context, id uuid.UUID) (store.User, error)
	List(ctx context.Context) ([]store.User, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role store.Role) (store.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

// EventStore is the part of store.Events the routes use.
type EventStore interface {
	Insert(ctx context.Context, e store.Event) (store.Event, error)
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]store.Event, error)
	Summary(ctx context.Context, f store.SummaryFilter) (store.Summary, error)
	Count(ctx context.Context, since time.Time) (int64, error)
}

// Tokens issues and verifies session tokens.
type Tokens interface {
	authn.Verifier
	Issue(userID uuid.UUID, role string) (string, time.Time, error)
}

// Metrics receives auth and collection counters. Nil disables them.
type Metrics interface {
	ObserveAuth(action, outcome string)
	IncEvent(authenticated bool)
}

type Options struct {
	Logger  log.Logger
	Errors  *httperr.Handler
	Users   UserStore
	Events  EventStore
	Tokens  Tokens
	Metrics Metrics

	// AuthLimiter wraps the auth group, typically a per-client rate limit.
	AuthLimiter func(http.Handler) http.Handler

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

var ErrInvalidOptions = errors.New("apihttp: invalid options")

type API struct {
	logger  log.Logger
	errs    *httperr.Handler
	users   UserStore
	events  EventStore
	tokens  Tokens
	metrics Metrics
	limiter func(http.Handler) http.Handler
	secure  bool
	now     func() time.Time
}

func New(opts Options) (*API, error) {
	if opts.Errors == nil || opts.Users == nil || opts.Events == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("%w: Errors, Users, Events and Tokens are required", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &API{
		logger:  opts.Logger,
		errs:    opts.Errors,
		users:   opts.Users,
		events:  opts.Events,
		tokens:  opts.Tokens,
		metrics: opts.Metrics,
		limiter: opts.AuthLimiter,
		secure:  opts.SecureCookies,
		now:     time.Now,
	}, nil
}

// router returns a chi router whose unmatched requests, including
// unsupported methods, end in the terminal 404.
func (api *API) router(name string) chi.Router {
	r := chi.NewRouter()
	r.NotFound(api.errs.NotFound().ServeHTTP)
	r.MethodNotAllowed(api.errs.NotFound().ServeHTTP)
	r.Use(httpmw.Scope(name))
	return r
}

func (api *API) handle(fn httperr.HandlerFunc) http.HandlerFunc {
	return api.errs.Adapt(fn)
}

func (api *API) requireAuth() func(http.Handler) http.Handler {
	return authn.Require(api.tokens, api.errs)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContextOr(ctx, api.logger).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func (api *API) observeAuth(action, outcome string) {
	if api.metrics != nil {
		api.metrics.ObserveAuth(action, outcome)
	}
}

// principal returns the authenticated caller. Routes using it sit behind
// requireAuth, so a missing principal is a wiring bug.
func principal(r *http.Request) (authn.Principal, error) {
	p, ok := authn.FromContext(r.Context())
	if !ok {
		return authn.Principal{}, httperr.Internal(errors.New("route requires an authenticated principal"))
	}
	return p, nil
}

type okResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
