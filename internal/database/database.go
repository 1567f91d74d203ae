// Package database opens the Postgres pool used by the route groups and
// applies the embedded schema migrations.
package database

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/keithlinneman/insightdash/internal/log"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects with the pgx driver and pings once. A failed ping closes
// the pool and returns the error; the caller must not start serving.
func Open(ctx context.Context, c Config, L log.Logger) (*sql.DB, error) {
	if L == nil {
		L = log.Nop()
	}
	if c.DSN == "" {
		return nil, xerrors.New("database: empty DSN")
	}

	db, err := sql.Open("pgx", c.DSN)
	if err != nil {
		return nil, xerrors.Wrap(err, "database: open")
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	pctx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrapf(err, "database: ping %s", RedactDSN(c.DSN))
	}

	L.Info(ctx, "connected to database", "dsn", RedactDSN(c.DSN), "max_open_conns", c.MaxOpenConns)
	return db, nil
}

// Migrate applies pending migrations.
func Migrate(ctx context.Context, db *sql.DB, L log.Logger) error {
	if L == nil {
		L = log.Nop()
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("pgx"); err != nil {
		return xerrors.Wrap(err, "migrations: set dialect")
	}

	before, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return xerrors.Wrap(err, "migrations: read version")
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return xerrors.Wrap(err, "migrations: up")
	}
	after, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return xerrors.Wrap(err, "migrations: read version")
	}

	L.Info(ctx, "database migrations applied", "from_version", before, "to_version", after)
	return nil
}
