package apihttp

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/keithlinneman/insightdash/internal/authn"
	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/store"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

const maxNameLen = 100

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Success   bool       `json:"success"`
	User      store.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

type userResponse struct {
	Success bool       `json:"success"`
	User    store.User `json:"user"`
}

// Auth serves register, login, logout and me.
func (api *API) Auth() http.Handler {
	r := api.router("auth")
	if api.limiter != nil {
		r.Use(api.limiter)
	}
	r.Post("/register", api.handle(api.register))
	r.Post("/login", api.handle(api.login))
	r.Post("/logout", api.handle(api.logout))
	r.With(api.requireAuth()).Get("/me", api.handle(api.me))
	return r
}

func (api *API) register(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	var req registerRequest
	if err := httpmw.DecodeBody(r, &req); err != nil {
		api.observeAuth("register", "invalid")
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxNameLen {
		api.observeAuth("register", "invalid")
		return httperr.BadRequest("name is required (max 100 characters)")
	}
	email, err := parseEmail(req.Email)
	if err != nil {
		api.observeAuth("register", "invalid")
		return err
	}
	hash, err := authn.HashPassword(req.Password)
	if errors.Is(err, authn.ErrPasswordLength) {
		api.observeAuth("register", "invalid")
		return httperr.BadRequest(err.Error())
	}
	if err != nil {
		api.observeAuth("register", "error")
		return err
	}

	u, err := api.users.Create(ctx, store.User{Name: req.Name, Email: email, PasswordHash: hash, Role: store.RoleUser})
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		api.observeAuth("register", "conflict")
		return httperr.Conflict("User already exists")
	case err != nil:
		api.observeAuth("register", "error")
		return xerrors.Wrap(err, "create user")
	}

	log.FromContext(ctx).Info(ctx, "user registered", "user.id", u.ID.String())
	api.observeAuth("register", "ok")
	return api.startSession(w, r, http.StatusCreated, u)
}

func (api *API) login(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	var req loginRequest
	if err := httpmw.DecodeBody(r, &req); err != nil {
		api.observeAuth("login", "invalid")
		return err
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		api.observeAuth("login", "invalid")
		return httperr.BadRequest("email and password are required")
	}

	u, err := api.users.ByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// spend the same bcrypt time as a real comparison
		_ = authn.CheckPassword(dummyHash(), req.Password)
		api.observeAuth("login", "invalid")
		return httperr.Unauthorized(authn.ErrBadCredentials.Error())
	case err != nil:
		api.observeAuth("login", "error")
		return xerrors.Wrap(err, "look up user")
	}

	err = authn.CheckPassword(u.PasswordHash, req.Password)
	switch {
	case errors.Is(err, authn.ErrBadCredentials):
		api.observeAuth("login", "invalid")
		return httperr.Unauthorized(authn.ErrBadCredentials.Error())
	case err != nil:
		api.observeAuth("login", "error")
		return err
	}

	api.observeAuth("login", "ok")
	return api.startSession(w, r, http.StatusOK, u)
}

// startSession issues a token for u, sets the cookie and writes the
// session body with status.
func (api *API) startSession(w http.ResponseWriter, r *http.Request, status int, u store.User) error {
	tok, exp, err := api.tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return err
	}
	maxAge := int(exp.Sub(api.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	authn.SetCookie(w, tok, maxAge, api.secure)
	api.writeJSON(r.Context(), w, status, sessionResponse{Success: true, User: u, Token: tok, ExpiresAt: exp.UTC()})
	return nil
}

func (api *API) logout(w http.ResponseWriter, r *http.Request) error {
	authn.ClearCookie(w, api.secure)
	api.writeJSON(r.Context(), w, http.StatusOK, okResponse{Success: true, Message: "Logged out"})
	return nil
}

func (api *API) me(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}
	u, err := api.users.ByID(r.Context(), p.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return httperr.Unauthorized("Not authorized, user no longer exists")
	case err != nil:
		return xerrors.Wrap(err, "load current user")
	}
	api.writeJSON(r.Context(), w, http.StatusOK, userResponse{Success: true, User: u})
	return nil
}

func parseEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || !strings.Contains(raw, "@") {
		return "", httperr.BadRequest("a valid email is required")
	}
	return store.NormalizeEmail(raw), nil
}

var (
	dummyOnce sync.Once
	dummy     string
)

// dummyHash is compared against when the email is unknown.
func dummyHash() string {
	dummyOnce.Do(func() {
		dummy, _ = authn.HashPassword("not-a-real-password")
	})
	return dummy
}
