package opshttp

import (
	"net/http"

	"github.com/keithlinneman/insightdash/internal/health"
)

// probeHandler answers 200 with okBody when p passes and 503 with the
// failure reason otherwise. A nil probe always passes.
func probeHandler(p health.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}
