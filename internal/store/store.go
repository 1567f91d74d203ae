// Package store holds the Postgres repositories behind the route groups.
// Queries are built with squirrel using $n placeholders.
package store

import (
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound   = errors.New("store: not found")
	ErrEmailTaken = errors.New("store: email already registered")
	ErrInvalid    = errors.New("store: invalid value")
)

// psql is the statement builder shared by all repositories.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// pgCode returns the SQLSTATE of a Postgres error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgCode(err) == pgerrcode.UniqueViolation }

func isCheckViolation(err error) bool { return pgCode(err) == pgerrcode.CheckViolation }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
