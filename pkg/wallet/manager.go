// Package wallet owns the wallet lifecycle: create, import, export, delete.
//
// One active wallet per user. EVM addresses are chain-agnostic, so a single
// key serves every configured chain. Key material is sealed by the vault and
// only decrypted for the duration of a signing or export operation.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/hexlayer-labs/tradecore/pkg/vault"
)

var (
	// ErrNoWallet is returned when a user has no active wallet.
	ErrNoWallet = errors.New("wallet: no wallet for user")
	// ErrWalletExists is returned on create/import when an active wallet
	// already exists for the user.
	ErrWalletExists = errors.New("wallet: user already has a wallet")
	// ErrInvalidKey is returned when imported key material is malformed.
	ErrInvalidKey = errors.New("wallet: invalid private key")
	// ErrConfirmationRequired is returned when a key export is attempted
	// without the explicit confirmation step.
	ErrConfirmationRequired = errors.New("wallet: key export requires explicit confirmation")
)

// Manager serializes wallet mutations per user and delegates key custody to
// the vault.
type Manager struct {
	store Store
	vault *vault.Vault
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires the manager to its store and vault.
func NewManager(store Store, v *vault.Vault, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		vault: v,
		log:   log.With().Str("component", "wallet").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing mutations for one user.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

// Create generates a fresh key pair, seals the key, and persists the record.
// Fails with ErrWalletExists when the user already has an active wallet.
func (m *Manager) Create(ctx context.Context, userID string) (*Record, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.Get(ctx, userID); err == nil {
		return nil, ErrWalletExists
	} else if !errors.Is(err, ErrNoWallet) {
		return nil, fmt.Errorf("check existing wallet: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw := crypto.FromECDSA(key)
	defer vault.Zero(raw)

	return m.seal(ctx, userID, key, raw)
}

// Import validates raw key material, derives the address, seals and persists
// it. Accepts a hex-encoded private key with or without the 0x prefix;
// mnemonic phrases are rejected with ErrInvalidKey.
func (m *Manager) Import(ctx context.Context, userID, rawKey string) (*Record, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.Get(ctx, userID); err == nil {
		return nil, ErrWalletExists
	} else if !errors.Is(err, ErrNoWallet) {
		return nil, fmt.Errorf("check existing wallet: %w", err)
	}

	raw, err := decodeKeyHex(rawKey)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(raw)

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return m.seal(ctx, userID, key, raw)
}

// seal encrypts the raw key and writes the record. Callers hold the user
// lock and own zeroing raw.
func (m *Manager) seal(ctx context.Context, userID string, key *ecdsa.PrivateKey, raw []byte) (*Record, error) {
	sealed, err := m.vault.Encrypt(raw)
	if err != nil {
		return nil, err
	}

	record := &Record{
		UserID:       userID,
		Address:      crypto.PubkeyToAddress(key.PublicKey).Hex(),
		EncryptedKey: sealed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("persist wallet: %w", err)
	}

	m.log.Info().Str("user", userID).Str("address", record.Address).Msg("wallet stored")
	return record, nil
}

// Get returns the active wallet record for a user.
func (m *Manager) Get(ctx context.Context, userID string) (*Record, error) {
	return m.store.Get(ctx, userID)
}

// Delete tombstones the wallet. Irreversible, and idempotent: deleting an
// absent wallet succeeds silently.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete wallet: %w", err)
	}
	m.log.Info().Str("user", userID).Msg("wallet deleted")
	return nil
}

// ExportKey decrypts and returns the private key as 0x-prefixed hex. This is
// the only path that surfaces plaintext key material; it demands the explicit
// confirmed flag the front end collects from the user.
func (m *Manager) ExportKey(ctx context.Context, userID string, confirmed bool) (string, error) {
	if !confirmed {
		return "", ErrConfirmationRequired
	}
	record, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	var out string
	err = m.vault.WithKey(record.EncryptedKey, func(plain []byte) error {
		out = "0x" + hex.EncodeToString(plain)
		return nil
	})
	if err != nil {
		return "", err
	}
	m.log.Warn().Str("user", userID).Msg("private key exported")
	return out, nil
}

// WithSigningKey resolves the user's wallet, decrypts the key for the scope
// of fn, and guarantees the raw bytes are zeroed on every exit path. fn
// receives the parsed ECDSA key and the wallet record.
func (m *Manager) WithSigningKey(ctx context.Context, userID string, fn func(record *Record, key *ecdsa.PrivateKey) error) error {
	record, err := m.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	return m.vault.WithKey(record.EncryptedKey, func(plain []byte) error {
		key, err := crypto.ToECDSA(plain)
		if err != nil {
			return fmt.Errorf("stored key corrupt: %w", err)
		}
		// Sanity check: the stored address must match the key that decrypted.
		derived := crypto.PubkeyToAddress(key.PublicKey).Hex()
		if !strings.EqualFold(derived, record.Address) {
			return fmt.Errorf("stored address %s does not match key %s", record.Address, derived)
		}
		return fn(record, key)
	})
}

// decodeKeyHex normalizes and validates a hex private key string.
func decodeKeyHex(rawKey string) ([]byte, error) {
	cleaned := strings.TrimSpace(rawKey)
	if strings.ContainsRune(cleaned, ' ') {
		// Multi-word input looks like a mnemonic; only raw keys are accepted.
		return nil, fmt.Errorf("%w: mnemonic import is not supported, provide a hex private key", ErrInvalidKey)
	}
	cleaned = strings.TrimPrefix(cleaned, "0x")
	if len(cleaned) != vault.PrivateKeySize*2 {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidKey, vault.PrivateKeySize*2, len(cleaned))
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrInvalidKey)
	}
	return raw, nil
}
