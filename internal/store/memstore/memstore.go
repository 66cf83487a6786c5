// Package memstore provides in-memory wallet and history stores. Used for
// tests and for running without Redis; nothing survives a restart.
package memstore

import (
	"context"
	"sync"

	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

// Wallets is a map-backed wallet.Store.
type Wallets struct {
	mu      sync.RWMutex
	records map[string]*wallet.Record
}

func NewWallets() *Wallets {
	return &Wallets{records: make(map[string]*wallet.Record)}
}

func (s *Wallets) Get(ctx context.Context, userID string) (*wallet.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, wallet.ErrNoWallet
	}
	copied := *record
	copied.EncryptedKey = append([]byte(nil), record.EncryptedKey...)
	return &copied, nil
}

func (s *Wallets) Put(ctx context.Context, record *wallet.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	copied.EncryptedKey = append([]byte(nil), record.EncryptedKey...)
	s.records[record.UserID] = &copied
	return nil
}

func (s *Wallets) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

// History is a slice-backed trade.HistoryStore. Entries are kept newest
// first, matching the Redis store's LPUSH ordering.
type History struct {
	mu      sync.RWMutex
	entries map[string][]*trade.HistoryEntry
}

func NewHistory() *History {
	return &History{entries: make(map[string][]*trade.HistoryEntry)}
}

func (s *History) Append(ctx context.Context, entry *trade.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.entries[entry.UserID] = append([]*trade.HistoryEntry{&copied}, s.entries[entry.UserID]...)
	return nil
}

func (s *History) List(ctx context.Context, userID string, limit int) ([]*trade.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[userID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]*trade.HistoryEntry, len(entries))
	for i, entry := range entries {
		copied := *entry
		out[i] = &copied
	}
	return out, nil
}
