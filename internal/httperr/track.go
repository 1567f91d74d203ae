package httperr

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sync/atomic"
)

type trackKey struct{}

type tracker struct{ started atomic.Bool }

// Track records whether anything has been written for the request so the
// terminal stage never writes a second response.
func Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(trackKey{}).(*tracker); ok {
			next.ServeHTTP(w, r)
			return
		}
		t := &tracker{}
		ctx := context.WithValue(r.Context(), trackKey{}, t)
		next.ServeHTTP(&trackingWriter{ResponseWriter: w, t: t}, r.WithContext(ctx))
	})
}

// Started reports whether the response for r has begun.
func Started(r *http.Request) bool {
	t, ok := r.Context().Value(trackKey{}).(*tracker)
	return ok && t.started.Load()
}

func markStarted(r *http.Request) {
	if t, ok := r.Context().Value(trackKey{}).(*tracker); ok {
		t.started.Store(true)
	}
}

type trackingWriter struct {
	http.ResponseWriter
	t *tracker
}

func (w *trackingWriter) WriteHeader(code int) {
	// 1xx informational headers do not commit the response
	if code >= 200 {
		w.t.started.Store(true)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	w.t.started.Store(true)
	return w.ResponseWriter.Write(b)
}

func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.t.started.Store(true)
		f.Flush()
	}
}

func (w *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.t.started.Store(true)
	return h.Hijack()
}

func (w *trackingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
