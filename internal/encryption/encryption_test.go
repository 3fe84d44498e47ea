package encryption_test

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-receiver/internal/encryption"
)

func newTestKey(t *testing.T, alias string) *encryption.Key {
	t.Helper()
	raw, err := encryption.GenerateRaw()
	require.NoError(t, err)
	key, err := encryption.NewKey(alias, raw)
	require.NoError(t, err)
	return key
}

func TestRoundTrip(t *testing.T) {
	key := newTestKey(t, "k1")

	for _, plaintext := range [][]byte{
		[]byte(""),
		[]byte("hi"),
		[]byte(`{"messages":[{"room_id":"!abc"}]}`),
		make([]byte, 64*1024),
	} {
		sealed, err := encryption.Encrypt(key, plaintext)
		require.NoError(t, err)

		opened, err := encryption.Decrypt(key, sealed)
		require.NoError(t, err)
		assert.Equal(t, len(plaintext), len(opened))
		assert.Equal(t, string(plaintext), string(opened))
	}
}

func TestEncrypt_UsesFreshNonce(t *testing.T) {
	key := newTestKey(t, "k1")
	a, err := encryption.Encrypt(key, []byte("same"))
	require.NoError(t, err)
	b, err := encryption.Encrypt(key, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Rejects(t *testing.T) {
	key := newTestKey(t, "k1")
	sealed, err := encryption.Encrypt(key, []byte("secret"))
	require.NoError(t, err)

	t.Run("foreign key", func(t *testing.T) {
		other := newTestKey(t, "k2")
		_, err := encryption.Decrypt(other, sealed)
		assert.ErrorIs(t, err, encryption.ErrAuthentication)
	})

	t.Run("tampered byte", func(t *testing.T) {
		for i := range sealed {
			tampered := append([]byte(nil), sealed...)
			tampered[i] ^= 0x01
			_, err := encryption.Decrypt(key, tampered)
			require.ErrorIs(t, err, encryption.ErrAuthentication, "byte %d", i)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := encryption.Decrypt(key, sealed[:10])
		assert.ErrorIs(t, err, encryption.ErrAuthentication)
	})

	t.Run("random bytes", func(t *testing.T) {
		garbage := make([]byte, 80)
		_, _ = rand.Read(garbage)
		_, err := encryption.Decrypt(key, garbage)
		assert.ErrorIs(t, err, encryption.ErrAuthentication)
	})
}

func TestStringHelpers(t *testing.T) {
	key := newTestKey(t, "k1")

	encoded, err := encryption.EncryptString(key, "hunter2")
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err, "output must be standard base64")

	decoded, err := encryption.DecryptString(key, encoded)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", decoded)

	_, err = encryption.DecryptString(key, "%%% not base64 %%%")
	assert.ErrorIs(t, err, encryption.ErrAuthentication)
}

func TestNewKey_RejectsBadSize(t *testing.T) {
	_, err := encryption.NewKey("short", make([]byte, 16))
	assert.ErrorIs(t, err, encryption.ErrKeySize)
}
