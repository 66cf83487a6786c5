package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

func TestWalletsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewWallets()

	_, err := store.Get(ctx, "alice")
	require.ErrorIs(t, err, wallet.ErrNoWallet)

	record := &wallet.Record{
		UserID:       "alice",
		Address:      "0x1111111111111111111111111111111111111111",
		EncryptedKey: []byte{1, 2, 3},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, record.Address, got.Address)

	// The store must hand out copies, not aliases of its internal state.
	got.EncryptedKey[0] = 99
	again, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.EncryptedKey[0])

	require.NoError(t, store.Delete(ctx, "alice"))
	require.NoError(t, store.Delete(ctx, "alice"))
	_, err = store.Get(ctx, "alice")
	assert.ErrorIs(t, err, wallet.ErrNoWallet)
}

func TestHistoryNewestFirstAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewHistory()

	for i, hash := range []string{"0xaa", "0xbb", "0xcc"} {
		require.NoError(t, store.Append(ctx, &trade.HistoryEntry{
			TradeID: hash,
			UserID:  "bob",
			TxHash:  hash,
			Kind:    "buy",
			ChainID: uint64(i),
		}))
	}

	entries, err := store.List(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "0xcc", entries[0].TxHash)
	assert.Equal(t, "0xaa", entries[2].TxHash)

	limited, err := store.List(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "0xcc", limited[0].TxHash)

	empty, err := store.List(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
