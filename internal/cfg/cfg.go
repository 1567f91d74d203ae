package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/insightdash/internal/log"
)

// EnvDevelopment is the NODE_ENV value that turns on request logging
// and colored console logs.
const EnvDevelopment = "development"

type App struct {
	ClientURL string
	NodeEnv   string
	Port      int
	PublicDir string

	PublicS3Bucket string
	PublicS3Prefix string
	PublicSSMParam string
	PublicPoll     time.Duration

	MaxBodyBytes int64
	TrustedHops  int

	JWTSecret         string
	JWTSecretSSMParam string
	JWTTTL            time.Duration
	AuthRatePerSecond float64
	AuthRateBurst     int

	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	ShutdownDrain time.Duration
}

// Pipeline holds the request pipeline options resolved from the
// environment once at startup.
type Pipeline struct {
	EnableRequestLogging bool
}

// Development reports whether NODE_ENV is exactly "development".
func (c App) Development() bool { return c.NodeEnv == EnvDevelopment }

func (c App) Pipeline() Pipeline {
	return Pipeline{EnableRequestLogging: c.Development()}
}

// AllowedOrigins splits CLIENT_URL on commas. An empty value means "*".
func (c App) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.ClientURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// PublicFromS3 reports whether the SPA bundle should be fetched from S3.
func (c App) PublicFromS3() bool {
	return c.PublicS3Bucket != "" || c.PublicSSMParam != ""
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ClientURL, "client-url", "*", "allowed CORS origin(s), comma separated")
	fs.StringVar(&c.NodeEnv, "node-env", "", "runtime environment; \"development\" enables request logging")
	fs.IntVar(&c.Port, "port", 5000, "public listen TCP port (1..65535)")
	fs.StringVar(&c.PublicDir, "public-dir", "public", "directory holding the built client bundle")

	fs.StringVar(&c.PublicS3Bucket, "public-s3-bucket", "", "s3 bucket holding client bundles (optional)")
	fs.StringVar(&c.PublicS3Prefix, "public-s3-prefix", "", "s3 key prefix for client bundles")
	fs.StringVar(&c.PublicSSMParam, "public-ssm-param", "", "ssm parameter holding the active client bundle sha256")
	fs.DurationVar(&c.PublicPoll, "public-poll", 0, "poll interval for new client bundles (0 disables)")

	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 100*1024, "max accepted request body for json/urlencoded parsing")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of the server")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for session tokens")
	fs.StringVar(&c.JWTSecretSSMParam, "jwt-secret-ssm-param", "", "ssm parameter holding the HMAC secret (overrides jwt-secret)")
	fs.DurationVar(&c.JWTTTL, "jwt-ttl", 24*time.Hour, "session token lifetime")
	fs.Float64Var(&c.AuthRatePerSecond, "auth-rate-per-second", 5, "auth route refill rate per client ip")
	fs.IntVar(&c.AuthRateBurst, "auth-rate-burst", 20, "auth route burst per client ip")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops listen TCP port (0 disables)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 0, "time to fail readiness before closing listeners")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d (must be 1..65535)", c.Port))
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 0..65535)", c.AdminPort))
	}
	if c.AdminPort != 0 && c.AdminPort == c.Port {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and PORT must differ (both %d)", c.Port))
	}

	for _, o := range c.AllowedOrigins() {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("CLIENT_URL entries must be * or an origin like https://app.example.com (got %q)", o))
		}
	}

	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}

	if c.PublicFromS3() {
		if c.PublicS3Bucket == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_S3_BUCKET is required when PUBLIC_SSM_PARAM is set"))
		}
		if c.PublicSSMParam == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_SSM_PARAM is required when PUBLIC_S3_BUCKET is set"))
		}
	} else if c.PublicDir == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_DIR is required"))
	}
	if c.PublicPoll < 0 {
		errs = append(errs, fmt.Errorf("PUBLIC_POLL must be >= 0"))
	}

	if c.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("JWT_TTL must be positive"))
	}
	if c.AuthRatePerSecond <= 0 || c.AuthRateBurst < 1 {
		errs = append(errs, fmt.Errorf("AUTH_RATE_PER_SECOND and AUTH_RATE_BURST must be positive"))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if c.ShutdownDrain < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_DRAIN must be >= 0"))
	}

	return errors.Join(errs...)
}
