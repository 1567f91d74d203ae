package authn

import (
	"net/http"

	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/log"
)

// Verifier resolves a raw token into a principal.
type Verifier interface {
	Verify(raw string) (Principal, error)
}

func authenticate(v Verifier, r *http.Request) (*http.Request, bool) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return r, false
	}
	p, err := v.Verify(raw)
	if err != nil {
		ctx := r.Context()
		log.FromContext(ctx).Debug(ctx, "rejected session token", "reason", err.Error())
		return r, false
	}
	ctx := log.WithContext(WithPrincipal(r.Context(), p), log.FromContext(r.Context()).With("user.id", p.UserID.String()))
	return r.WithContext(ctx), true
}

// Optional attaches the principal when a valid token is present and
// otherwise passes the request through unchanged.
func Optional(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, _ = authenticate(v, r)
			next.ServeHTTP(w, r)
		})
	}
}

// Require answers 401 through errs unless the request carries a valid token.
func Require(v Verifier, errs httperr.ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := authenticate(v, r)
			if !ok {
				errs.ServeError(w, r, httperr.Unauthorized("Not authorized, invalid or missing token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole answers 403 unless the authenticated principal has one of
// roles. It must run after Require.
func RequireRole(errs httperr.ErrorHandler, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				errs.ServeError(w, r, httperr.Unauthorized("Not authorized, invalid or missing token"))
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			errs.ServeError(w, r, httperr.Forbidden("Forbidden, insufficient role"))
		})
	}
}
