// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), "cart-42", "tablet-1")

	subject, ok := GetSubject(ctx)
	require.True(t, ok)
	require.Equal(t, "cart-42", subject)

	device, ok := GetDeviceID(ctx)
	require.True(t, ok)
	require.Equal(t, "tablet-1", device)
}

func TestMissingIdentity(t *testing.T) {
	_, ok := GetSubject(context.Background())
	require.False(t, ok)
	_, ok = GetDeviceID(context.Background())
	require.False(t, ok)
}
