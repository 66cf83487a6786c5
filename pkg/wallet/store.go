package wallet

import (
	"context"
	"time"
)

// Record is the persisted form of a wallet. The private key only ever appears
// here sealed by the vault; the plaintext is never stored or logged.
type Record struct {
	UserID       string    `json:"user_id"`
	Address      string    `json:"address"`
	EncryptedKey []byte    `json:"encrypted_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence interface the manager consumes. Implementations
// must provide read-after-write consistency on a single key; the engine is
// otherwise agnostic to the concrete backend.
type Store interface {
	// Get returns the wallet for a user, or ErrNoWallet.
	Get(ctx context.Context, userID string) (*Record, error)
	// Put stores or replaces the wallet for a user.
	Put(ctx context.Context, record *Record) error
	// Delete removes the wallet. Deleting an absent wallet is not an error.
	Delete(ctx context.Context, userID string) error
}
