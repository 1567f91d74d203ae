package httpmw

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// Recover turns a handler panic into a 500. With errs set the panic is
// forwarded to the terminal error stage, which logs it; otherwise it is
// logged here and a plain 500 is written. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recover(logger log.Logger, onPanic func(), errs httperr.ErrorHandler) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.WithStack(xerrors.Wrap(e, "panic"))
				} else {
					err = xerrors.WithStack(fmt.Errorf("panic: %v", rec))
				}

				if errs != nil {
					errs.ServeError(w, r, httperr.Internal(err))
					return
				}
				ctx := r.Context()
				log.FromContextOr(ctx, logger).Error(ctx, err, "httpserver panic recovered",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				if !httperr.Started(r) {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
