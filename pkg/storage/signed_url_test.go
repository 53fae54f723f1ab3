package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Sign("exp-1", "schedules/exp-1.xlsx")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	grant, err := signer.Verify(token, false)
	require.NoError(t, err)
	require.Equal(t, "exp-1", grant.ExportID)
	require.Equal(t, "schedules/exp-1.xlsx", grant.Path)
	require.WithinDuration(t, expiresAt, grant.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Sign("exp-1", "schedules/exp-1.csv")
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = signer.Verify(token, false)
	require.ErrorIs(t, err, ErrTokenExpired)

	grant, err := signer.Verify(token, true)
	require.NoError(t, err)
	require.Equal(t, "exp-1", grant.ExportID)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Sign("exp-1", "schedules/exp-1.csv")
	require.NoError(t, err)

	_, err = NewSignedURLSigner("other", time.Hour).Verify(token, false)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = signer.Verify("exp-2"+token[len("exp-1"):], false)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = signer.Verify("garbage", false)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = signer.Sign("a.b", "x")
	require.Error(t, err)
}
