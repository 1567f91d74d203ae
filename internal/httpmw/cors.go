package httpmw

import (
	"net/http"

	"github.com/rs/cors"
)

type CORSOptions struct {
	// AllowedOrigins comes from CLIENT_URL; "*" allows any origin.
	AllowedOrigins []string
	// AllowCredentials lets browsers send cookies and auth headers.
	AllowCredentials bool
}

// CORS answers preflight requests itself and decorates every other
// response with the cross-origin headers for the configured origins.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: opts.AllowCredentials,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPut,
			http.MethodPatch, http.MethodPost, http.MethodDelete,
		},
		// reflect whatever the browser asks for
		AllowedHeaders:       []string{"*"},
		ExposedHeaders:       []string{RequestIDHeader, TraceIDHeader},
		OptionsSuccessStatus: http.StatusNoContent,
	})
	return c.Handler
}
