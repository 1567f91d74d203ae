package httpmw

import (
	"context"
	"net/http"
)

func withBody(r *http.Request, b Body) context.Context {
	return context.WithValue(r.Context(), bodyKey{}, b)
}
