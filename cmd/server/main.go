package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/insightdash/internal/apihttp"
	"github.com/keithlinneman/insightdash/internal/assets"
	"github.com/keithlinneman/insightdash/internal/authn"
	"github.com/keithlinneman/insightdash/internal/cfg"
	"github.com/keithlinneman/insightdash/internal/database"
	"github.com/keithlinneman/insightdash/internal/health"
	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/httpserver"
	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/metrics"
	"github.com/keithlinneman/insightdash/internal/opshttp"
	"github.com/keithlinneman/insightdash/internal/otelx"
	"github.com/keithlinneman/insightdash/internal/prof"
	"github.com/keithlinneman/insightdash/internal/ratelimit"
	"github.com/keithlinneman/insightdash/internal/secrets"
	"github.com/keithlinneman/insightdash/internal/spa"
	"github.com/keithlinneman/insightdash/internal/store"
	v "github.com/keithlinneman/insightdash/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", cfg.DefaultEnvFile, "KEY=value file exported before reading the environment (empty disables)")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return 0
	}

	envLoaded, err := cfg.LoadEnvFile(envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// unprefixed so PORT, CLIENT_URL and NODE_ENV work as deployed
	cfg.FillFromEnv(flag.CommandLine, "", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		Color:             conf.Development(),
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"node_env", conf.NodeEnv,
		"port", conf.Port,
		"admin_port", conf.AdminPort,
		"client_url", conf.ClientURL,
		"public_dir", conf.PublicDir,
		"public_s3_bucket", conf.PublicS3Bucket,
		"public_ssm_param", conf.PublicSSMParam,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
	)
	if envLoaded {
		L.Info(ctx, "loaded environment file", "path", envFile)
	}
	if conf.Development() {
		L.Info(ctx, "development mode active", "request_logging", conf.Pipeline().EnableRequestLogging)
	}

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfo("server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	resolver := secrets.NewResolver(nil)

	// database: nothing binds until it answers a ping
	dbConf, err := database.LoadConfig()
	if err != nil {
		L.Error(ctx, err, "invalid database configuration")
		return 1
	}
	if dbConf.DSN, err = resolver.Resolve(ctx, dbConf.DSN, dbConf.DSNSSMParam); err != nil {
		L.Error(ctx, err, "failed to resolve database url")
		return 1
	}
	db, err := database.Open(ctx, dbConf, L)
	if err != nil {
		L.Error(ctx, err, "database connection failed")
		return 1
	}
	defer closeDB(L, db)
	if err := m.RegisterDB(db, v.AppName); err != nil {
		L.Warn(ctx, "failed to register db pool metrics", "error", err)
	}
	if dbConf.Migrate {
		if err := database.Migrate(ctx, db, L); err != nil {
			L.Error(ctx, err, "database migration failed")
			return 1
		}
	}

	tokens, err := newIssuer(ctx, L, conf, resolver)
	if err != nil {
		L.Error(ctx, err, "failed to set up session tokens")
		return 1
	}

	bundles := assets.NewManager()
	if err := loadBundle(ctx, L, conf, bundles, m); err != nil {
		L.Error(ctx, err, "failed to set up client bundle source")
		return 1
	}

	errs := httperr.NewHandler(httperr.Options{
		Logger:        L,
		Development:   conf.Development(),
		OnServerError: m.ObserveServerError,
	})

	site, err := spa.New(spa.Options{
		Logger:       L,
		Bundle:       bundles,
		NotFound:     errs.NotFound(),
		OnEntryError: func(*http.Request, error) { m.IncSPAEntryError() },
	})
	if err != nil {
		L.Error(ctx, err, "failed to create spa handler")
		return 1
	}

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.AuthRatePerSecond, conf.AuthRateBurst),
		ratelimit.WithErrorHandler(errs),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimited() }),
		// once per address until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			m.IncRateLimitedClient()
			L.Warn(ctx, "auth rate limit triggered", "client.address", ip)
		}),
	)

	api, err := apihttp.New(apihttp.Options{
		Logger:        L,
		Errors:        errs,
		Users:         store.NewUsers(db),
		Events:        store.NewEvents(db),
		Tokens:        tokens,
		Metrics:       m,
		AuthLimiter:   limiter.Middleware,
		SecureCookies: !conf.Development(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create api routes")
		return 1
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Ping("database", db, 2*time.Second),
	)

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:               L,
		Port:                 conf.Port,
		AllowedOrigins:       conf.AllowedOrigins(),
		MaxBodyBytes:         conf.MaxBodyBytes,
		EnableRequestLogging: conf.Pipeline().EnableRequestLogging,
		ClientIP:             httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Errors:               errs,
		MetricsMW:            m.Middleware,
		OnPanic:              m.IncHTTPPanic,
		Draining:             gate.Draining,
		Groups: []httpserver.Route{
			httpserver.Group("auth", "/api/auth", api.Auth()),
			httpserver.Group("analytics", "/api/analytics", api.Analytics()),
			httpserver.Group("admin", "/api/admin", api.Admin()),
		},
		SPA:    site,
		Bundle: bundles,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		return 1
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// ops listener: metrics, health, pprof; refuses public and proxied clients
	opsHTTPStop := func(context.Context) error { return nil }
	if conf.AdminPort != 0 {
		opsHTTPStop, err = opshttp.Start(ctx, L, opshttp.Options{
			Port:        conf.AdminPort,
			Metrics:     m.Handler(),
			EnablePprof: conf.EnablePprof,
			Health:      health.Fixed(true, ""),
			Readiness:   readiness,
			OnPanic:     m.IncHTTPPanic,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start ops http listener")
			return 1
		}
		defer func() { _ = opsHTTPStop(context.Background()) }()
	}

	if err := notifySystemd(); err != nil {
		// systemd kills the unit after its start timeout if this never lands
		L.Debug(ctx, "systemd readiness not sent", "reason", err.Error())
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")
	gate.Set("draining")

	if conf.ShutdownDrain > 0 {
		L.Info(bg, "draining before closing listeners", "drain", conf.ShutdownDrain.String())
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(conf.ShutdownDrain):
			L.Info(bg, "drain period complete")
		case <-forceCh:
			L.Warn(bg, "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	shutdownCtx, cancel := context.WithTimeout(bg, 15*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}

	L.Info(bg, "shutdown complete")
	return 0
}

func closeDB(L log.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		L.Error(context.Background(), err, "database close")
	}
}

// newIssuer resolves the signing secret. Development falls back to a
// random per-process secret so sessions simply reset on restart.
func newIssuer(ctx context.Context, L log.Logger, conf cfg.App, resolver *secrets.Resolver) (*authn.Issuer, error) {
	secret, err := resolver.Resolve(ctx, conf.JWTSecret, conf.JWTSecretSSMParam)
	if err != nil {
		return nil, err
	}
	if secret == "" && conf.Development() {
		buf := make([]byte, authn.MinSecretLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		L.Warn(ctx, "JWT_SECRET not set, using an ephemeral development secret")
		return authn.NewIssuer(buf, v.AppName, conf.JWTTTL)
	}
	return authn.NewIssuer([]byte(secret), v.AppName, conf.JWTTTL)
}

// loadBundle installs the initial client bundle and, for S3 sources with
// polling enabled, starts the watcher. A missing or invalid bundle is
// logged and left for the SPA stage to report per request.
func loadBundle(ctx context.Context, L log.Logger, conf cfg.App, mgr *assets.Manager, m *metrics.ServerMetrics) error {
	var (
		b      *assets.Bundle
		loader *assets.Loader
		err    error
	)
	start := time.Now()
	if conf.PublicFromS3() {
		loader, err = assets.NewLoader(ctx, assets.LoaderOptions{
			Logger:   L,
			SSMParam: conf.PublicSSMParam,
			S3Bucket: conf.PublicS3Bucket,
			S3Prefix: conf.PublicS3Prefix,
		})
		if err != nil {
			return err
		}
		b, err = loader.Load(ctx)
	} else {
		b, err = assets.LoadDir(conf.PublicDir)
	}

	switch {
	case err != nil:
		L.Warn(ctx, "client bundle not loaded", "error", err)
	default:
		m.ObserveBundleLoad(time.Since(start))
		if verr := assets.Validate(b); verr != nil {
			L.Warn(ctx, "client bundle has no usable entry document", "error", verr)
		}
		mgr.Set(*b)
		if got, ok := mgr.Get(); ok {
			m.SetBundle(got.SHA256, got.LoadedAt)
		}
		L.Info(ctx, "client bundle active", "source", string(b.Source), "sha256", b.SHA256)
	}
	m.SetBundleSource(string(mgr.Source()))

	if loader != nil && conf.PublicPoll > 0 {
		w := assets.NewWatcher(assets.WatcherOptions{
			Logger:       L,
			Fetcher:      loader,
			Manager:      mgr,
			PollInterval: conf.PublicPoll,
			Metrics:      m,
		})
		go func() { _ = w.Run(ctx) }()
	}
	return nil
}
