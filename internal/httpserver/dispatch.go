package httpserver

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/insightdash/internal/pathutil"
)

// APIPrefix is the path space reserved for route groups. The SPA never
// answers inside it.
const APIPrefix = "/api"

// Route is one entry of the dispatch table.
type Route struct {
	Name string

	// Prefix routes claim the prefix and everything below it at a segment
	// boundary, and see the path with the prefix stripped.
	Prefix string

	// Match, when Prefix is empty, claims requests by path without
	// rewriting them.
	Match func(path string) bool

	Handler http.Handler
}

// Group mounts h under prefix.
func Group(name, prefix string, h http.Handler) Route {
	return Route{Name: name, Prefix: strings.TrimSuffix(prefix, "/"), Handler: h}
}

// SPA is the catch-all for paths outside APIPrefix.
func SPA(h http.Handler) Route {
	return Route{
		Name:    "spa",
		Match:   func(p string) bool { return !strings.HasPrefix(p, APIPrefix) },
		Handler: h,
	}
}

func (rt Route) claims(p string) bool {
	if rt.Prefix != "" {
		return pathutil.HasSegmentPrefix(p, rt.Prefix)
	}
	return rt.Match != nil && rt.Match(p)
}

// pattern is the route pattern recorded for metrics and spans. Group
// routers append their own sub-pattern after it.
func (rt Route) pattern() string {
	if rt.Prefix != "" {
		return rt.Prefix + "/*"
	}
	return "/*"
}

// Dispatcher evaluates routes top to bottom; the first claim wins.
// Requests no route claims go to notFound.
type Dispatcher struct {
	routes   []Route
	notFound http.Handler
}

func NewDispatcher(notFound http.Handler, routes ...Route) *Dispatcher {
	if notFound == nil {
		notFound = http.NotFoundHandler()
	}
	return &Dispatcher{routes: routes, notFound: notFound}
}

// Lookup returns the route that claims path.
func (d *Dispatcher) Lookup(path string) (Route, bool) {
	for _, rt := range d.routes {
		if rt.claims(path) {
			return rt, true
		}
	}
	return Route{}, false
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := d.Lookup(r.URL.Path)
	if !ok {
		d.notFound.ServeHTTP(w, r)
		return
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		rc.RoutePatterns = append(rc.RoutePatterns, rt.pattern())
	}
	if rt.Prefix != "" {
		r = stripPrefix(r, rt.Prefix)
	}
	rt.Handler.ServeHTTP(w, r)
}

// stripPrefix returns a shallow copy of r with prefix removed from the
// URL path, keeping RawPath consistent.
func stripPrefix(r *http.Request, prefix string) *http.Request {
	p, _ := pathutil.StripSegmentPrefix(r.URL.Path, prefix)
	rp := ""
	if r.URL.RawPath != "" {
		if rest, ok := pathutil.StripSegmentPrefix(r.URL.RawPath, prefix); ok {
			rp = rest
		}
	}

	r2 := new(http.Request)
	*r2 = *r
	r2.URL = new(url.URL)
	*r2.URL = *r.URL
	r2.URL.Path = p
	r2.URL.RawPath = rp
	return r2
}
