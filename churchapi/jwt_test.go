// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package churchapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewJWTAuth("secret-1")

	token, err := auth.GenerateToken("user-7", "device-3", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-7", claims.Subject)
	require.Equal(t, "device-3", claims.DeviceID)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-1").GenerateToken("u", "d", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-2").ValidateToken(token)
	require.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	auth := NewJWTAuth("secret-1")
	token, err := auth.GenerateToken("u", "d", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestTokenMissingDeviceID(t *testing.T) {
	secret := []byte("secret-1")
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := raw.SignedString(secret)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-1").ValidateToken(token)
	require.ErrorContains(t, err, "did")
}
