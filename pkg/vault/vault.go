// Package vault provides authenticated encryption for wallet private keys.
//
// Keys are sealed with AES-256-GCM under a process-wide master secret. The
// plaintext never leaves the package except through WithKey, which lends the
// decrypted bytes to a closure and zeroes them on every exit path.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/hexlayer-labs/tradecore/internal/metrics"
)

// PrivateKeySize is the byte length of a secp256k1 private key.
const PrivateKeySize = 32

var (
	// ErrEncrypt reports a refusal to seal, typically invalid key material.
	ErrEncrypt = errors.New("vault: encrypt failed")
	// ErrDecrypt reports an authentication failure: tampered ciphertext or a
	// wrong master secret. The vault never returns unauthenticated plaintext.
	ErrDecrypt = errors.New("vault: decrypt failed")
)

// Vault seals and opens private keys with a master secret fixed at
// construction time. Safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New derives a 256-bit AES key from the master secret and builds the vault.
// The secret is configuration loaded once at startup, never per-request.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret must not be empty")
	}
	key := sha256.Sum256([]byte(masterSecret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals a raw private key. The nonce is generated fresh per call and
// prepended to the returned ciphertext.
func (v *Vault) Encrypt(plainKey []byte) ([]byte, error) {
	if len(plainKey) != PrivateKeySize {
		metrics.VaultOpsTotal.WithLabelValues("encrypt", "error").Inc()
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrEncrypt, PrivateKeySize, len(plainKey))
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		metrics.VaultOpsTotal.WithLabelValues("encrypt", "error").Inc()
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrEncrypt, err)
	}

	sealed := v.aead.Seal(nonce, nonce, plainKey, nil)
	metrics.VaultOpsTotal.WithLabelValues("encrypt", "ok").Inc()
	return sealed, nil
}

// Decrypt opens a sealed private key. Callers that only need the key for a
// signing operation should prefer WithKey.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		metrics.VaultOpsTotal.WithLabelValues("decrypt", "error").Inc()
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		metrics.VaultOpsTotal.WithLabelValues("decrypt", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	metrics.VaultOpsTotal.WithLabelValues("decrypt", "ok").Inc()
	return plain, nil
}

// WithKey decrypts the ciphertext, hands the plaintext key to fn, and zeroes
// the buffer before returning regardless of how fn exits.
func (v *Vault) WithKey(ciphertext []byte, fn func(plainKey []byte) error) error {
	plain, err := v.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	defer Zero(plain)
	return fn(plain)
}

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
