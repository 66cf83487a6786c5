// Package redisstore persists wallet records and trade history in Redis.
//
// Key layout:
//
//	wallet:<user_id>   JSON-encoded wallet.Record
//	trades:<user_id>   list of JSON-encoded trade.HistoryEntry, newest first
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

// historyCap bounds the per-user trade list so histories cannot grow without
// limit.
const historyCap = 500

func walletKey(userID string) string { return "wallet:" + userID }
func tradesKey(userID string) string { return "trades:" + userID }

// Wallets is a Redis-backed wallet.Store.
type Wallets struct {
	client *redis.Client
}

func NewWallets(client *redis.Client) *Wallets {
	return &Wallets{client: client}
}

func (s *Wallets) Get(ctx context.Context, userID string) (*wallet.Record, error) {
	raw, err := s.client.Get(ctx, walletKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, wallet.ErrNoWallet
	}
	if err != nil {
		return nil, fmt.Errorf("redis get wallet: %w", err)
	}
	var record wallet.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode wallet record: %w", err)
	}
	return &record, nil
}

func (s *Wallets) Put(ctx context.Context, record *wallet.Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode wallet record: %w", err)
	}
	if err := s.client.Set(ctx, walletKey(record.UserID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set wallet: %w", err)
	}
	return nil
}

func (s *Wallets) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, walletKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del wallet: %w", err)
	}
	return nil
}

// History is a Redis-backed trade.HistoryStore.
type History struct {
	client *redis.Client
}

func NewHistory(client *redis.Client) *History {
	return &History{client: client}
}

func (s *History) Append(ctx context.Context, entry *trade.HistoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	key := tradesKey(entry.UserID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, historyCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push history: %w", err)
	}
	return nil
}

func (s *History) List(ctx context.Context, userID string, limit int) ([]*trade.HistoryEntry, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	raws, err := s.client.LRange(ctx, tradesKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read history: %w", err)
	}
	entries := make([]*trade.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry trade.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
