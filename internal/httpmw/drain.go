package httpmw

import "net/http"

// CloseWhenDraining answers with Connection: close while draining reports
// true, so keep-alive clients reconnect through the load balancer instead
// of reusing a connection to an instance that is shutting down. A nil
// draining yields no stage.
func CloseWhenDraining(draining func() bool) func(http.Handler) http.Handler {
	if draining == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if draining() {
				w.Header().Set("Connection", "close")
			}
			next.ServeHTTP(w, r)
		})
	}
}
