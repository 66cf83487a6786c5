package vault

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New("test-master-secret")
	require.NoError(t, err)
	return v
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, PrivateKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for i := 0; i < 16; i++ {
		key := randomKey(t)

		sealed, err := v.Encrypt(key)
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), string(key))

		opened, err := v.Decrypt(sealed)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(key, opened))
	}
}

func TestEncryptRejectsBadKeyLength(t *testing.T) {
	v := newTestVault(t)

	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := v.Encrypt(make([]byte, n))
		require.Error(t, err, "length %d", n)
		assert.True(t, errors.Is(err, ErrEncrypt))
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	v := newTestVault(t)
	key := randomKey(t)

	sealed, err := v.Encrypt(key)
	require.NoError(t, err)

	// Flip one bit at every position; authentication must fail each time.
	for i := range sealed {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[i] ^= 0x01

		_, err := v.Decrypt(tampered)
		require.Error(t, err, "bit flip at byte %d went undetected", i)
		assert.True(t, errors.Is(err, ErrDecrypt))
	}
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	v1 := newTestVault(t)
	v2, err := New("a-different-secret")
	require.NoError(t, err)

	sealed, err := v1.Encrypt(randomKey(t))
	require.NoError(t, err)

	_, err = v2.Decrypt(sealed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecrypt))
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Decrypt([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecrypt))
}

func TestNonceIsFreshPerEncryption(t *testing.T) {
	v := newTestVault(t)
	key := randomKey(t)

	a, err := v.Encrypt(key)
	require.NoError(t, err)
	b, err := v.Encrypt(key)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a, b), "two encryptions of the same key must differ")
}

func TestWithKeyZeroesOnAllPaths(t *testing.T) {
	v := newTestVault(t)
	key := randomKey(t)

	sealed, err := v.Encrypt(key)
	require.NoError(t, err)

	var leaked []byte
	err = v.WithKey(sealed, func(plain []byte) error {
		leaked = plain
		assert.True(t, bytes.Equal(key, plain))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, PrivateKeySize), leaked, "plaintext must be zeroed after WithKey returns")

	// Error path zeroes as well.
	boom := errors.New("boom")
	err = v.WithKey(sealed, func(plain []byte) error {
		leaked = plain
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, make([]byte, PrivateKeySize), leaked)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
