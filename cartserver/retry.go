// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxTxAttempts = 4
	txBackoffBase = 25 * time.Millisecond
)

// retryableStates are the SQLSTATEs a record write is rerun for: lost
// serialization, deadlock and lock timeout.
var retryableStates = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// sqlState returns the SQLSTATE of a wrapped Postgres error, or "".
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.SQLState() == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

// withTxRetry reruns fn while it fails with a retryable Postgres error,
// backing off linearly between attempts.
func withTxRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		if err = fn(); err == nil || !retryableStates[sqlState(err)] {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}
		backoff := time.NewTimer(time.Duration(attempt) * txBackoffBase)
		select {
		case <-backoff.C:
		case <-ctx.Done():
			backoff.Stop()
			return ctx.Err()
		}
	}
	return err
}
