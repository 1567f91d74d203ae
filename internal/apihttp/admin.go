package apihttp

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/insightdash/internal/authn"
	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/store"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

type usersResponse struct {
	Success bool         `json:"success"`
	Users   []store.User `json:"users"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type statsResponse struct {
	Success       bool  `json:"success"`
	Users         int64 `json:"users"`
	Events        int64 `json:"events"`
	EventsLast24h int64 `json:"eventsLast24h"`
}

// Admin serves user management and totals. Every route requires an
// authenticated admin.
func (api *API) Admin() http.Handler {
	r := api.router("admin")
	r.Use(api.requireAuth(), authn.RequireRole(api.errs, string(store.RoleAdmin)))
	r.Get("/users", api.handle(api.listUsers))
	r.Patch("/users/{id}/role", api.handle(api.setRole))
	r.Delete("/users/{id}", api.handle(api.deleteUser))
	r.Get("/stats", api.handle(api.stats))
	return r
}

func (api *API) listUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := api.users.List(r.Context())
	if err != nil {
		return xerrors.Wrap(err, "list users")
	}
	api.writeJSON(r.Context(), w, http.StatusOK, usersResponse{Success: true, Users: users})
	return nil
}

func userIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, httperr.BadRequest("invalid user id")
	}
	return id, nil
}

func (api *API) setRole(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id, err := userIDParam(r)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := httpmw.DecodeBody(r, &req); err != nil {
		return err
	}
	role := store.Role(strings.TrimSpace(req.Role))
	if !role.Valid() {
		return httperr.BadRequest("role must be user or admin")
	}

	u, err := api.users.UpdateRole(ctx, id, role)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return httperr.NotFound("User not found")
	case errors.Is(err, store.ErrInvalid):
		return httperr.BadRequest("role must be user or admin")
	case err != nil:
		return xerrors.Wrap(err, "update role")
	}
	log.FromContext(ctx).Info(ctx, "user role changed", "target.user.id", id.String(), "role", string(role))
	api.writeJSON(ctx, w, http.StatusOK, userResponse{Success: true, User: u})
	return nil
}

func (api *API) deleteUser(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id, err := userIDParam(r)
	if err != nil {
		return err
	}
	p, err := principal(r)
	if err != nil {
		return err
	}
	if p.UserID == id {
		return httperr.BadRequest("admins cannot delete their own account")
	}

	err = api.users.Delete(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return httperr.NotFound("User not found")
	case err != nil:
		return xerrors.Wrap(err, "delete user")
	}
	log.FromContext(ctx).Info(ctx, "user deleted", "target.user.id", id.String())
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (api *API) stats(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	users, err := api.users.Count(ctx)
	if err != nil {
		return xerrors.Wrap(err, "count users")
	}
	events, err := api.events.Count(ctx, time.Time{})
	if err != nil {
		return xerrors.Wrap(err, "count events")
	}
	recent, err := api.events.Count(ctx, api.now().Add(-24*time.Hour))
	if err != nil {
		return xerrors.Wrap(err, "count recent events")
	}
	api.writeJSON(ctx, w, http.StatusOK, statsResponse{Success: true, Users: users, Events: events, EventsLast24h: recent})
	return nil
}
