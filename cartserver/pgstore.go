// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobiletoly/go-cartsync/cartsync"
)

const userPinConstraint = "records_users_pin_uq"

// PGStore keeps each record as a JSONB document in cartsync.records.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Backend = (*PGStore)(nil)

// NewPGStore initializes the schema and returns a ready store.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PGStore, error) {
	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PGStore) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		migrations := []string{
			/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS cartsync`,
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS cartsync.records (
				table_name TEXT        NOT NULL,
				id         TEXT        NOT NULL,
				payload    JSONB       NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (table_name, id)
			)`,
			// One user per pin across the business
			/*language=postgresql*/ `CREATE UNIQUE INDEX IF NOT EXISTS ` + userPinConstraint + `
				ON cartsync.records ((payload->>'pin'))
				WHERE table_name = 'users' AND COALESCE(payload->>'pin', '') <> ''`,
		}
		for _, m := range migrations {
			if _, err := tx.Exec(ctx, m); err != nil {
				return fmt.Errorf("failed to execute migration: %w", err)
			}
		}
		return nil
	})
}

func (s *PGStore) List(ctx context.Context, table cartsync.Table) ([]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM cartsync.records WHERE table_name = $1 ORDER BY id`, string(table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (json.RawMessage, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return nil, err
		}
		return json.RawMessage(payload), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	return out, nil
}

func (s *PGStore) Upsert(ctx context.Context, table cartsync.Table, records []json.RawMessage) error {
	heads, err := parseHeads(records)
	if err != nil {
		return err
	}
	if len(heads) == 0 {
		return nil
	}
	err = withTxRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for i, h := range heads {
				batch.Queue(`
					INSERT INTO cartsync.records (table_name, id, payload, updated_at)
					VALUES ($1, $2, $3, now())
					ON CONFLICT (table_name, id)
					DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
					string(table), h.ID, []byte(records[i]))
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	if isUniqueViolation(err, userPinConstraint) {
		return fmt.Errorf("%w: %v", ErrPinConflict, err)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, table cartsync.Table, id string) error {
	err := withTxRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM cartsync.records WHERE table_name = $1 AND id = $2`, string(table), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
	}
	return nil
}

func (s *PGStore) FindUserByPin(ctx context.Context, pin string) (json.RawMessage, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM cartsync.records
		WHERE table_name = 'users' AND payload->>'pin' = $1
		LIMIT 1`, pin).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pin: %w", err)
	}
	return json.RawMessage(payload), nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
