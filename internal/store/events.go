package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

type Event struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.NullUUID   `json:"userId"`
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	Referrer   string          `json:"referrer"`
	Properties json.RawMessage `json:"properties"`
	ClientIP   string          `json:"-"`
	UserAgent  string          `json:"-"`
	CreatedAt  time.Time       `json:"createdAt"`
}

var eventColumns = []string{"id", "user_id", "name", "path", "referrer", "properties", "client_ip", "user_agent", "created_at"}

func scanEvent(row rowScanner) (Event, error) {
	var (
		e     Event
		props []byte
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Path, &e.Referrer, &props, &e.ClientIP, &e.UserAgent, &e.CreatedAt)
	if len(props) > 0 {
		e.Properties = json.RawMessage(props)
	}
	return e, err
}

// SummaryFilter narrows Summary. Zero fields are ignored.
type SummaryFilter struct {
	From time.Time
	To   time.Time
	Name string
}

type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type DayCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

type Summary struct {
	Total  int64       `json:"total"`
	ByName []NameCount `json:"byName"`
	ByDay  []DayCount  `json:"byDay"`
}

type Events struct {
	db  *sql.DB
	now func() time.Time
}

func NewEvents(db *sql.DB) *Events {
	return &Events{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Insert stores e, assigning an id and timestamp when unset.
func (s *Events) Insert(ctx context.Context, e Event) (Event, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if len(e.Properties) == 0 {
		e.Properties = json.RawMessage(`{}`)
	}
	if !json.Valid(e.Properties) {
		return Event{}, ErrInvalid
	}

	query, args, err := psql.Insert("events").
		Columns(eventColumns...).
		Values(e.ID, e.UserID, e.Name, e.Path, e.Referrer, string(e.Properties), e.ClientIP, e.UserAgent, e.CreatedAt).
		ToSql()
	if err != nil {
		return Event{}, xerrors.Wrap(err, "build insert event")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return Event{}, xerrors.Wrap(err, "insert event")
	}
	return e, nil
}

// Recent returns the newest events recorded for userID.
func (s *Events) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	query, args, err := psql.Select(eventColumns...).
		From("events").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, xerrors.Wrap(err, "build recent events")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "recent events")
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, xerrors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (f SummaryFilter) where() sq.And {
	w := sq.And{}
	if !f.From.IsZero() {
		w = append(w, sq.GtOrEq{"created_at": f.From})
	}
	if !f.To.IsZero() {
		w = append(w, sq.Lt{"created_at": f.To})
	}
	if f.Name != "" {
		w = append(w, sq.Eq{"name": f.Name})
	}
	return w
}

// Summary counts events matching f per name and per UTC day.
func (s *Events) Summary(ctx context.Context, f SummaryFilter) (Summary, error) {
	out := Summary{ByName: []NameCount{}, ByDay: []DayCount{}}

	byName, args, err := psql.Select("name", "count(*)").
		From("events").
		Where(f.where()).
		GroupBy("name").
		OrderBy("count(*) DESC", "name").
		ToSql()
	if err != nil {
		return out, xerrors.Wrap(err, "build summary by name")
	}
	rows, err := s.db.QueryContext(ctx, byName, args...)
	if err != nil {
		return out, xerrors.Wrap(err, "summary by name")
	}
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			rows.Close()
			return out, xerrors.Wrap(err, "scan summary by name")
		}
		out.Total += nc.Count
		out.ByName = append(out.ByName, nc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, xerrors.Wrap(err, "summary by name")
	}

	byDay, args, err := psql.Select("date_trunc('day', created_at AT TIME ZONE 'UTC') AS day", "count(*)").
		From("events").
		Where(f.where()).
		GroupBy("day").
		OrderBy("day").
		ToSql()
	if err != nil {
		return out, xerrors.Wrap(err, "build summary by day")
	}
	rows, err = s.db.QueryContext(ctx, byDay, args...)
	if err != nil {
		return out, xerrors.Wrap(err, "summary by day")
	}
	defer rows.Close()
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return out, xerrors.Wrap(err, "scan summary by day")
		}
		dc.Day = dc.Day.UTC()
		out.ByDay = append(out.ByDay, dc)
	}
	return out, rows.Err()
}

// Count returns the number of events, limited to those at or after since
// when since is non-zero.
func (s *Events) Count(ctx context.Context, since time.Time) (int64, error) {
	b := psql.Select("count(*)").From("events")
	if !since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": since})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, xerrors.Wrap(err, "build count events")
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, xerrors.Wrap(err, "count events")
	}
	return n, nil
}
