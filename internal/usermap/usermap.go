// Package usermap связывает пользователей Telegram с профилями Bitrix24.
package usermap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS tg_bitrix_map (
	tg_id INTEGER PRIMARY KEY,
	bitrix_user_id INTEGER NOT NULL,
	linked_at TEXT NOT NULL
)`

type Link struct {
	TgID         int64  `db:"tg_id"`
	BitrixUserID int64  `db:"bitrix_user_id"`
	LinkedAt     string `db:"linked_at"`
}

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open открывает базу sqlite, создавая каталог при необходимости.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite не любит параллельную запись
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return New(db), nil
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Set связывает пользователя с профилем, заменяя прежнюю связь.
func (s *Store) Set(ctx context.Context, tgID, bitrixUserID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tg_bitrix_map (tg_id, bitrix_user_id, linked_at) VALUES (?, ?, ?)
		ON CONFLICT(tg_id) DO UPDATE SET bitrix_user_id = excluded.bitrix_user_id, linked_at = excluded.linked_at`,
		tgID, bitrixUserID, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// Get возвращает ID профиля Bitrix24; ok == false, если связи нет.
func (s *Store) Get(ctx context.Context, tgID int64) (int64, bool, error) {
	var link Link
	err := s.db.GetContext(ctx, &link,
		`SELECT tg_id, bitrix_user_id, linked_at FROM tg_bitrix_map WHERE tg_id = ?`, tgID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select link: %w", err)
	}
	return link.BitrixUserID, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
