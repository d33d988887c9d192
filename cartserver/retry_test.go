// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cartserver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestSQLState(t *testing.T) {
	require.Equal(t, "40P01", sqlState(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	require.Empty(t, sqlState(errors.New("boom")))
	require.Empty(t, sqlState(nil))
	for _, code := range []string{"40001", "40P01", "55P03"} {
		require.True(t, retryableStates[code], code)
	}
	require.False(t, retryableStates["23505"])
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("batch: %w", &pgconn.PgError{Code: "23505", ConstraintName: userPinConstraint})
	require.True(t, isUniqueViolation(err, userPinConstraint))
	require.True(t, isUniqueViolation(err, ""))
	require.False(t, isUniqueViolation(err, "records_pkey"))
	require.False(t, isUniqueViolation(nil, ""))
}

func TestWithTxRetry(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := withTxRetry(ctx, func() error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	attempts = 0
	err = withTxRetry(ctx, func() error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.Error(t, err)
	require.Equal(t, maxTxAttempts, attempts)

	attempts = 0
	plain := errors.New("not retryable")
	err = withTxRetry(ctx, func() error {
		attempts++
		return plain
	})
	require.ErrorIs(t, err, plain)
	require.Equal(t, 1, attempts)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = withTxRetry(cancelled, func() error { return &pgconn.PgError{Code: "40001"} })
	require.ErrorIs(t, err, context.Canceled)
}
