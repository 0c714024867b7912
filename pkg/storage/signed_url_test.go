package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("m-1", "m-1/cashback-20260831.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	ownerID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "m-1", ownerID)
	require.Equal(t, "m-1/cashback-20260831.csv", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("m-1", "m-1/cashback-20260831.csv")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	ownerID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "m-1", ownerID)
	require.Equal(t, "m-1/cashback-20260831.csv", path)
}

func TestSignedURLSignerRejectsTamperedOwner(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("m-1", "m-1/cashback-20260831.pdf")
	require.NoError(t, err)

	forged := strings.Replace(token, "m-1.", "m-2.", 1)
	_, _, _, err = signer.Parse(forged, false)
	require.Error(t, err)
}
