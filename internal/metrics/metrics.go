// Package metrics owns the Prometheus registry exposed on the ops
// listener. Labels are limited to method, route pattern and status so
// user supplied paths never become series.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	panics    prometheus.Counter
	spaErrors prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	rateLimited     prometheus.Counter
	rateLimitedIPs  prometheus.Counter
	authAttempts    *prometheus.CounterVec
	eventsCollected *prometheus.CounterVec

	bundleSource   *prometheus.GaugeVec
	bundleInfo     *prometheus.GaugeVec
	bundleLoadedTs prometheus.Gauge
	bundleLoadDur  prometheus.Histogram
	watcherPolls   prometheus.Counter
	watcherSwaps   prometheus.Counter
	watcherErrors  *prometheus.CounterVec
	watcherStale   prometheus.Gauge
}

func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "5xx responses written by the error handler, by method and route (SLI)",
		}, []string{"method", "route"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Recovered handler panics",
		}),
		spaErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spa_entry_errors_total",
			Help: "Requests answered 500 because the SPA entry document could not be served",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by the auth rate limiter",
		}),
		rateLimitedIPs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_clients_total",
			Help: "Client addresses that hit the auth rate limit",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Register and login attempts by action and outcome",
		}, []string{"action", "outcome"}),
		eventsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_events_total",
			Help: "Analytics events accepted, by whether the caller was signed in",
		}, []string{"authenticated"}),
		bundleSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spa_bundle_source_info",
			Help: "Where the client bundle was loaded from (label carries value, gauge is always 1)",
		}, []string{"source"}),
		bundleInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spa_bundle_info",
			Help: "Active client bundle identity (value is always 1)",
		}, []string{"sha256"}),
		bundleLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spa_bundle_loaded_timestamp_seconds",
			Help: "Unix time the active client bundle was loaded",
		}),
		bundleLoadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spa_bundle_load_duration_seconds",
			Help:    "Time to download, verify, and extract a client bundle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		watcherPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spa_bundle_watcher_polls_total",
			Help: "Bundle watcher poll cycles",
		}),
		watcherSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spa_bundle_watcher_swaps_total",
			Help: "Client bundles swapped in by the watcher",
		}),
		watcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spa_bundle_watcher_errors_total",
			Help: "Bundle watcher errors by stage",
		}, []string{"type"}),
		watcherStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spa_bundle_watcher_stale",
			Help: "Whether the bundle watcher has not succeeded recently (1) or is healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight, m.reqTotal, m.reqDur, m.respBytes, m.errors, m.panics, m.spaErrors,
		m.buildInfo, m.profilingActive,
		m.rateLimited, m.rateLimitedIPs, m.authAttempts, m.eventsCollected,
		m.bundleSource, m.bundleInfo, m.bundleLoadedTs, m.bundleLoadDur,
		m.watcherPolls, m.watcherSwaps, m.watcherErrors, m.watcherStale,
	)

	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry is exposed for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

// RegisterDB exports connection pool stats for db.
func (m *ServerMetrics) RegisterDB(db *sql.DB, name string) error {
	return m.reg.Register(collectors.NewDBStatsCollector(db, name))
}

// SetBuildInfo is called once at startup.
func (m *ServerMetrics) SetBuildInfo(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         version.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

// ObserveServerError counts a 5xx written by the terminal error stage.
func (m *ServerMetrics) ObserveServerError(r *http.Request) {
	m.errors.WithLabelValues(r.Method, httpmw.RouteName(r)).Inc()
}

func (m *ServerMetrics) IncHTTPPanic()     { m.panics.Inc() }
func (m *ServerMetrics) IncSPAEntryError() { m.spaErrors.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingActive.Set(b2f(active)) }

func (m *ServerMetrics) IncRateLimited()       { m.rateLimited.Inc() }
func (m *ServerMetrics) IncRateLimitedClient() { m.rateLimitedIPs.Inc() }

// ObserveAuth counts an auth attempt. action is register or login,
// outcome is ok, invalid, conflict or error.
func (m *ServerMetrics) ObserveAuth(action, outcome string) {
	m.authAttempts.WithLabelValues(action, outcome).Inc()
}

func (m *ServerMetrics) IncEvent(authenticated bool) {
	m.eventsCollected.WithLabelValues(strconv.FormatBool(authenticated)).Inc()
}

func (m *ServerMetrics) SetBundleSource(source string) {
	m.bundleSource.Reset()
	m.bundleSource.WithLabelValues(source).Set(1)
}

func (m *ServerMetrics) SetBundle(sha256 string, loadedAt time.Time) {
	m.bundleInfo.Reset()
	m.bundleInfo.WithLabelValues(sha256).Set(1)
	m.bundleLoadedTs.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) ObserveBundleLoad(d time.Duration) { m.bundleLoadDur.Observe(d.Seconds()) }
func (m *ServerMetrics) IncWatcherPolls()                   { m.watcherPolls.Inc() }
func (m *ServerMetrics) IncWatcherSwaps()                   { m.watcherSwaps.Inc() }
func (m *ServerMetrics) IncWatcherError(stage string)       { m.watcherErrors.WithLabelValues(stage).Inc() }
func (m *ServerMetrics) SetWatcherStale(stale bool)         { m.watcherStale.Set(b2f(stale)) }

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
