package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var userColumns = []string{"id", "name", "email", "password_hash", "role", "created_at", "updated_at"}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// NormalizeEmail is applied to every email before it is stored or looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Users struct {
	db  *sql.DB
	now func() time.Time
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts u with a fresh id. A duplicate email returns ErrEmailTaken.
func (s *Users) Create(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.Email = NormalizeEmail(u.Email)
	now := s.now()

	query, args, err := psql.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Name, u.Email, u.PasswordHash, u.Role, now, now).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return User{}, xerrors.Wrap(err, "build insert user")
	}

	created, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	switch {
	case isUniqueViolation(err):
		return User{}, ErrEmailTaken
	case err != nil:
		return User{}, xerrors.Wrap(err, "insert user")
	}
	return created, nil
}

func (s *Users) ByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, sq.Eq{"email": NormalizeEmail(email)})
}

func (s *Users) ByID(ctx context.Context, id uuid.UUID) (User, error) {
	return s.getOne(ctx, sq.Eq{"id": id})
}

func (s *Users) getOne(ctx context.Context, where sq.Sqlizer) (User, error) {
	query, args, err := psql.Select(userColumns...).From("users").Where(where).Limit(1).ToSql()
	if err != nil {
		return User{}, xerrors.Wrap(err, "build select user")
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// List returns every user, newest first.
func (s *Users) List(ctx context.Context) ([]User, error) {
	query, args, err := psql.Select(userColumns...).From("users").OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, xerrors.Wrap(err, "build list users")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "list users")
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, xerrors.Wrap(err, "scan user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateRole sets the role of user id and returns the updated row.
func (s *Users) UpdateRole(ctx context.Context, id uuid.UUID, role Role) (User, error) {
	if !role.Valid() {
		return User{}, ErrInvalid
	}
	query, args, err := psql.Update("users").
		Set("role", role).
		Set("updated_at", s.now()).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return User{}, xerrors.Wrap(err, "build update role")
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	switch {
	case isCheckViolation(err):
		return User{}, ErrInvalid
	case err != nil:
		return User{}, notFound(err)
	}
	return u, nil
}

// Delete removes user id. Their events are kept with the user cleared.
func (s *Users) Delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := psql.Delete("users").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return xerrors.Wrap(err, "build delete user")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return xerrors.Wrap(err, "delete user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(err, "delete user")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Users) Count(ctx context.Context) (int64, error) {
	query, args, err := psql.Select("count(*)").From("users").ToSql()
	if err != nil {
		return 0, xerrors.Wrap(err, "build count users")
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, xerrors.Wrap(err, "count users")
	}
	return n, nil
}
