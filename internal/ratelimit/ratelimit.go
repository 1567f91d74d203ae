package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial so hooks log once per episode
	reported bool
}

// IPLimiter keeps a token bucket per client address and evicts idle ones.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	errs          httperr.ErrorHandler
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and bucket size. WithRate(5, 20) allows 20
// requests at once, then 5 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle address is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithOnFirstDenied runs once per address until its entry is evicted.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs on every rejected request.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.onDenied = fn }
}

// WithErrorHandler routes rejections through the terminal error stage.
func WithErrorHandler(h httperr.ErrorHandler) Option {
	return func(l *IPLimiter) { l.errs = h }
}

// New builds a limiter and starts eviction, which stops when ctx ends.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:  make(map[string]*visitor),
		perSecond: 5,
		burst:     20,
		ttl:       10 * time.Minute,
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

// Allow reports whether ip may proceed and consumes a token if so.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	now := l.now()
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	first := !allowed && !v.reported
	if first {
		v.reported = true
	}
	l.mu.Unlock()

	// hooks run unlocked, they may log or touch metrics
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(ip)
	}
	return allowed
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(l.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.evict(l.now())
		}
	}
}

func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429. The response carries
// no detail about the bucket.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			next.ServeHTTP(w, r)
			return
		}
		if l.errs != nil {
			l.errs.ServeError(w, r, httperr.TooManyRequests())
			return
		}
		w.Header().Set("Retry-After", "30")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}
