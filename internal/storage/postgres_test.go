package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "expirybot/pkg/logx"
)

func newMockPostgres(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, dialectPostgres, logx.Nop()), mock
}

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "SELECT 1 WHERE a = ? AND b = ? LIMIT ?"
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2 LIMIT $3", dialectPostgres.rebind(q))
	assert.Equal(t, q, dialectSQLite.rebind(q))
}

func TestPostgresWasNotifiedToday(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	day := Day{Start: time.Date(2026, 6, 15, 4, 0, 0, 0, time.UTC), End: time.Date(2026, 6, 16, 4, 0, 0, 0, time.UTC)}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(1) FROM notifications_log`)).
		WithArgs("5566", "client", "sent", "outbound", day.Start, day.End).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := s.WasNotifiedToday(context.Background(), "5566", CategoryClient, day)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordAndFinalize(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO notifications_log(id, phone, message, status, error, direction, notification_type, sent_at)`)).
		WithArgs(sqlmock.AnyArg(), "5566", "hello", "pending", nil, "outbound", "vendor", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := s.Record(context.Background(), Draft{Phone: "5566", Message: "hello", Category: CategoryVendor, At: now})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications_log SET status = $1, error = $2, sent_at = $3 WHERE id = $4`)).
		WithArgs("sent", nil, now, rec.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Finalize(context.Background(), rec.ID, StatusSent, ""))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications_log`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Finalize(context.Background(), "gone", StatusSent, ""), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	at := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(1) FROM notifications_log WHERE status = $1`)).
		WithArgs("failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY sent_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs("failed", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "message", "status", "error", "direction", "notification_type", "sent_at"}).
			AddRow("id-1", "5566", "m", "failed", "boom", "outbound", "vendor", at))

	page, err := s.List(context.Background(), Query{PageSize: 10, Status: StatusFailed})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "boom", page.Items[0].Error)
	assert.Equal(t, at, page.Items[0].SentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
