package database

import (
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// Config is read from the environment. Either DATABASE_URL or
// DATABASE_URL_SSM_PARAM must be set.
type Config struct {
	DSN         string `env:"DATABASE_URL"`
	DSNSSMParam string `env:"DATABASE_URL_SSM_PARAM"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	Migrate         bool          `env:"DB_MIGRATE" envDefault:"true"`
}

// LoadConfig parses Config from the process environment.
func LoadConfig() (Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, xerrors.Wrap(err, "database config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.DSN == "" && c.DSNSSMParam == "" {
		return xerrors.New("database config: DATABASE_URL or DATABASE_URL_SSM_PARAM is required")
	}
	if c.MaxOpenConns < 1 {
		return xerrors.Newf("database config: DB_MAX_OPEN_CONNS must be positive (got %d)", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return xerrors.Newf("database config: DB_MAX_IDLE_CONNS must be 0..%d (got %d)", c.MaxOpenConns, c.MaxIdleConns)
	}
	if c.ConnectTimeout <= 0 {
		return xerrors.New("database config: DB_CONNECT_TIMEOUT must be positive")
	}
	return nil
}

// RedactDSN hides the password of a URL style DSN for logging. Keyword
// style DSNs are not echoed at all.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[redacted]"
	}
	return u.Redacted()
}
