// Package cartsqlite is the on-device record store for cartsync, backed by
// SQLite. Every row in the six synced tables carries a sync_status column;
// queued remote deletions and the last full sync time live in _sync_*
// bookkeeping tables next to them.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

const stateKeyLastSyncTime = "last_sync_time"

// Store implements cartsync.LocalStore.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time

	users      *table[cartsync.User, *cartsync.User]
	categories *table[cartsync.Category, *cartsync.Category]
	inventory  *table[cartsync.InventoryItem, *cartsync.InventoryItem]
	sales      *table[cartsync.Sale, *cartsync.Sale]
	expenses   *table[cartsync.Expense, *cartsync.Expense]
	activities *table[cartsync.Activity, *cartsync.Activity]
}

var _ cartsync.LocalStore = (*Store)(nil)

// Options tunes the SQLite connection.
type Options struct {
	BusyTimeout time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Open opens (creating if needed) the database at path and prepares the schema.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busy.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	s, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database and prepares the schema.
func New(db *sqlx.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Store{db: db, logger: logger, now: now}
	s.users = newTable[cartsync.User](s, "users", "name", "pin", "role", "bio", "profile_picture")
	s.categories = newTable[cartsync.Category](s, "categories", "name")
	s.inventory = newTable[cartsync.InventoryItem](s, "inventory",
		"name", "category_id", "unit", "price", "quantity", "created_by")
	s.sales = newTable[cartsync.Sale](s, "sales", "name", "total", "date", "created_by")
	s.expenses = newTable[cartsync.Expense](s, "expenses", "name", "total", "date", "created_by")
	s.activities = newTable[cartsync.Activity](s, "activities", "type", "description", "user_id")
	return s, nil
}

// DB exposes the underlying handle for app queries.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func initializeDatabase(db *sqlx.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// No foreign keys between synced tables: pulled rows arrive in any
	// order and the engine repairs orphans.
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              TEXT PRIMARY KEY,
			sync_status     TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced')),
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			pin             TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL DEFAULT '',
			bio             TEXT NOT NULL DEFAULT '',
			profile_picture TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id          TEXT PRIMARY KEY,
			sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced')),
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			name        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			id          TEXT PRIMARY KEY,
			sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced')),
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			category_id TEXT,
			unit        TEXT NOT NULL DEFAULT '',
			price       TEXT NOT NULL DEFAULT '0',
			quantity    TEXT NOT NULL DEFAULT '0',
			created_by  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id          TEXT PRIMARY KEY,
			sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced')),
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			total       TEXT NOT NULL DEFAULT '0',
			date        TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id          TEXT PRIMARY KEY,
			sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced')),
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			name        TEXT NOT NULL DEFAULT '',
			total       TEXT NOT NULL DEFAULT '0',
			date        TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id          TEXT PRIMARY KEY,
			sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending','synced')),
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			type        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			user_id     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS inventory_created_by_idx ON inventory(created_by)`,
		`CREATE INDEX IF NOT EXISTS inventory_category_idx ON inventory(category_id)`,
		`CREATE INDEX IF NOT EXISTS sales_created_by_idx ON sales(created_by)`,
		`CREATE INDEX IF NOT EXISTS expenses_created_by_idx ON expenses(created_by)`,
		`CREATE INDEX IF NOT EXISTS activities_user_idx ON activities(user_id)`,

		// Remote deletes waiting for the next cycle (one per table/id)
		`CREATE TABLE IF NOT EXISTS _sync_pending_deletions (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			record_id  TEXT NOT NULL,
			queued_at  TIMESTAMP NOT NULL,
			UNIQUE (table_name, record_id)
		)`,
		`CREATE TABLE IF NOT EXISTS _sync_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) Users() cartsync.TableStore[cartsync.User] { return s.users }
func (s *Store) Categories() cartsync.TableStore[cartsync.Category] { return s.categories }
func (s *Store) Inventory() cartsync.TableStore[cartsync.InventoryItem] { return s.inventory }
func (s *Store) Sales() cartsync.TableStore[cartsync.Sale] { return s.sales }
func (s *Store) Expenses() cartsync.TableStore[cartsync.Expense] { return s.expenses }
func (s *Store) Activities() cartsync.TableStore[cartsync.Activity] { return s.activities }

// userRefColumns lists every column that holds a user id.
var userRefColumns = []struct{ table, column string }{
	{"inventory", "created_by"},
	{"sales", "created_by"},
	{"expenses", "created_by"},
	{"activities", "user_id"},
}

// RepointUser rewrites all user references from fromID to toID in one
// transaction and marks the touched rows pending.
func (s *Store) RepointUser(ctx context.Context, fromID, toID string) (int64, error) {
	if fromID == toID {
		return 0, nil
	}
	var total int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		for _, ref := range userRefColumns {
			q := fmt.Sprintf(`UPDATE %s SET %s = ?, sync_status = 'pending', updated_at = ? WHERE %s = ?`,
				ref.table, ref.column, ref.column)
			res, err := tx.ExecContext(ctx, q, toID, now, fromID)
			if err != nil {
				return fmt.Errorf("failed to repoint %s.%s: %w", ref.table, ref.column, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}

func (s *Store) RepointCategory(ctx context.Context, fromID, toID string) (int64, error) {
	if fromID == toID {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET category_id = ?, sync_status = 'pending', updated_at = ? WHERE category_id = ?`,
		toID, s.now(), fromID)
	if err != nil {
		return 0, fmt.Errorf("failed to repoint inventory category: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) ClearCategory(ctx context.Context, categoryID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET category_id = NULL, sync_status = 'pending', updated_at = ? WHERE category_id = ?`,
		s.now(), categoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear inventory category: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueueDeletion records a remote delete. Queuing the same row twice keeps
// the first entry.
func (s *Store) QueueDeletion(ctx context.Context, table cartsync.Table, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _sync_pending_deletions (table_name, record_id, queued_at)
		VALUES (?, ?, ?)
		ON CONFLICT (table_name, record_id) DO NOTHING`,
		string(table), id, s.now())
	if err != nil {
		return fmt.Errorf("failed to queue deletion: %w", err)
	}
	return nil
}

func (s *Store) PendingDeletions(ctx context.Context) ([]cartsync.Deletion, error) {
	var out []cartsync.Deletion
	err := s.db.SelectContext(ctx, &out,
		`SELECT seq, table_name, record_id, queued_at FROM _sync_pending_deletions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletions: %w", err)
	}
	return out, nil
}

// ClearDeletions removes exactly the drained entries; deletions queued after
// they were read survive.
func (s *Store) ClearDeletions(ctx context.Context, drained []cartsync.Deletion) error {
	if len(drained) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, d := range drained {
			if _, err := tx.ExecContext(ctx, `DELETE FROM _sync_pending_deletions WHERE seq = ?`, d.Seq); err != nil {
				return fmt.Errorf("failed to clear deletion %d: %w", d.Seq, err)
			}
		}
		return nil
	})
}

// LastSyncTime returns the zero time when no cycle has ever fully synced.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM _sync_state WHERE key = ?`, stateKeyLastSyncTime)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sync state: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time %q: %w", raw, err)
	}
	return t, nil
}

func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _sync_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		stateKeyLastSyncTime, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
