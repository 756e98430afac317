package usermap

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/nalgeon/be"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	be.Err(t, err, nil)
	t.Cleanup(func() { db.Close() })

	s := New(sqlx.NewDb(db, "sqlmock"))
	s.now = func() time.Time { return time.Date(2026, 2, 7, 12, 30, 0, 0, time.UTC) }
	return s, mock
}

func TestSet(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tg_bitrix_map (tg_id, bitrix_user_id, linked_at) VALUES (?, ?, ?)")).
		WithArgs(int64(100), int64(42), "2026-02-07T12:30:00Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	be.Err(t, s.Set(context.Background(), 100, 42), nil)
	be.Err(t, mock.ExpectationsWereMet(), nil)
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)
	query := regexp.QuoteMeta("SELECT tg_id, bitrix_user_id, linked_at FROM tg_bitrix_map WHERE tg_id = ?")

	mock.ExpectQuery(query).WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"tg_id", "bitrix_user_id", "linked_at"}).
			AddRow(100, 42, "2026-02-07T12:30:00Z"))
	mock.ExpectQuery(query).WithArgs(int64(200)).
		WillReturnRows(sqlmock.NewRows([]string{"tg_id", "bitrix_user_id", "linked_at"}))
	mock.ExpectQuery(query).WithArgs(int64(300)).
		WillReturnError(errors.New("disk I/O error"))

	id, ok, err := s.Get(context.Background(), 100)
	be.Err(t, err, nil)
	be.True(t, ok)
	be.Equal(t, id, int64(42))

	_, ok, err = s.Get(context.Background(), 200)
	be.Err(t, err, nil)
	be.True(t, !ok)

	_, _, err = s.Get(context.Background(), 300)
	be.Err(t, err, "disk I/O error")

	be.Err(t, mock.ExpectationsWereMet(), nil)
}

func TestInit(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tg_bitrix_map")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	be.Err(t, s.Init(context.Background()), nil)
	be.Err(t, mock.ExpectationsWereMet(), nil)
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "data", "users.db"))
	be.Err(t, err, nil)
	defer s.Close()

	be.Err(t, s.Init(ctx), nil)

	_, ok, err := s.Get(ctx, 1)
	be.Err(t, err, nil)
	be.True(t, !ok)

	be.Err(t, s.Set(ctx, 1, 10), nil)
	be.Err(t, s.Set(ctx, 1, 11), nil)

	id, ok, err := s.Get(ctx, 1)
	be.Err(t, err, nil)
	be.True(t, ok)
	be.Equal(t, id, int64(11))
}

func TestParseBitrixUserID(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{"42", 42, true},
		{" 42 ", 42, true},
		{"https://b24.example/company/personal/user/42/", 42, true},
		{"https://b24.example/company/personal/user/42/?IFRAME=Y", 42, true},
		{"company/personal/user/7", 7, true},
		{"user/7/", 7, true},
		{"0", 0, false},
		{"-5", 0, false},
		{"", 0, false},
		{"https://b24.example/company/", 0, false},
		{"superuser/5/", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, ok := ParseBitrixUserID(tt.in)
			be.Equal(t, ok, tt.wantOK)
			be.Equal(t, id, tt.want)
		})
	}
}
