package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"expirybot/internal/sqlutil"
	logx "expirybot/pkg/logx"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name           string
	migrateDialect string
	dollar         bool // $n placeholders
	unixMillis     bool // sent_at stored as INTEGER milliseconds
}

var (
	dialectSQLite   = dialect{name: "sqlite", migrateDialect: "sqlite3", unixMillis: true}
	dialectPostgres = dialect{name: "postgres", migrateDialect: "postgres", dollar: true}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return dialectSQLite, nil
	case "postgres", "postgresql":
		return dialectPostgres, nil
	default:
		return dialect{}, fmt.Errorf("no sql dialect for driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(q string) string { return sqlutil.Rebind(q, d.dollar) }

func (d dialect) timeArg(t time.Time) any {
	if d.unixMillis {
		return t.UTC().UnixMilli()
	}
	return t.UTC()
}

// sqlTime scans either INTEGER milliseconds or a native timestamp.
type sqlTime struct{ t time.Time }

func (s *sqlTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		s.t = time.Time{}
	case int64:
		s.t = time.UnixMilli(x).UTC()
	case time.Time:
		s.t = x.UTC()
	case []byte:
		return s.parse(string(x))
	case string:
		return s.parse(x)
	default:
		return fmt.Errorf("sent_at: unsupported type %T", v)
	}
	return nil
}

func (s *sqlTime) parse(v string) error {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		s.t = time.UnixMilli(ms).UTC()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("sent_at: %w", err)
	}
	s.t = t.UTC()
	return nil
}

// sqlStore implements Ledger over database/sql.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, d: d, log: log, now: time.Now}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) WasNotifiedToday(ctx context.Context, phone string, category Category, day Day) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT COUNT(1) FROM notifications_log
		 WHERE phone = ? AND notification_type = ? AND status = ? AND direction = ?
		   AND sent_at >= ? AND sent_at < ?`),
		phone, string(category), string(StatusSent), string(Outbound),
		s.d.timeArg(day.Start), s.d.timeArg(day.End),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) Record(ctx context.Context, d Draft) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrDisabled
	}
	d = d.normalized()
	rec := Record{
		ID:        uuid.NewString(),
		Phone:     d.Phone,
		Message:   d.Message,
		Status:    d.Status,
		Direction: d.Direction,
		Category:  d.Category,
		SentAt:    d.At,
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO notifications_log(id, phone, message, status, error, direction, notification_type, sent_at)
		 VALUES(?,?,?,?,?,?,?,?)`),
		rec.ID, rec.Phone, rec.Message, string(rec.Status), nil,
		string(rec.Direction), string(rec.Category), s.d.timeArg(rec.SentAt),
	)
	if err != nil {
		return Record{}, fmt.Errorf("ledger insert: %w", err)
	}
	return rec, nil
}

func (s *sqlStore) Finalize(ctx context.Context, id string, status Status, errText string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE notifications_log SET status = ?, error = ?, sent_at = ? WHERE id = ?`),
		string(status), nullStr(clip(errText)), s.d.timeArg(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("ledger finalize: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context, q Query) (Page, error) {
	if s == nil || s.db == nil {
		return Page{}, ErrDisabled
	}
	q = q.normalized()

	var (
		where []string
		args  []any
	)
	if q.Phone != "" {
		where = append(where, "phone = ?")
		args = append(args, q.Phone)
	}
	if q.Category != "" {
		where = append(where, "notification_type = ?")
		args = append(args, string(q.Category))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.d.rebind("SELECT COUNT(1) FROM notifications_log"+cond), args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("ledger count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, phone, message, status, error, direction, notification_type, sent_at
		 FROM notifications_log`+cond+` ORDER BY sent_at DESC LIMIT ? OFFSET ?`),
		append(args, q.PageSize, q.offset())...,
	)
	if err != nil {
		return Page{}, fmt.Errorf("ledger list: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, q.PageSize)
	for rows.Next() {
		var (
			r       Record
			errText sql.NullString
			at      sqlTime
			status  string
			dir     string
			cat     string
		)
		if err := rows.Scan(&r.ID, &r.Phone, &r.Message, &status, &errText, &dir, &cat, &at); err != nil {
			return Page{}, fmt.Errorf("ledger scan: %w", err)
		}
		r.Status, r.Direction, r.Category = Status(status), Direction(dir), Category(cat)
		r.Error = errText.String
		r.SentAt = at.t
		items = append(items, r)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Page{}, err
	}
	return newPage(q, items, total), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
