package redisstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "wallet:12345", walletKey("12345"))
	assert.Equal(t, "trades:12345", tradesKey("12345"))
}

func TestWalletRecordEncoding(t *testing.T) {
	record := &wallet.Record{
		UserID:       "12345",
		Address:      "0x1111111111111111111111111111111111111111",
		EncryptedKey: []byte{0xde, 0xad, 0xbe, 0xef},
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded wallet.Record
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, record.UserID, decoded.UserID)
	assert.Equal(t, record.Address, decoded.Address)
	assert.Equal(t, record.EncryptedKey, decoded.EncryptedKey)
	assert.True(t, record.CreatedAt.Equal(decoded.CreatedAt))
}

func TestHistoryEntryEncoding(t *testing.T) {
	entry := &trade.HistoryEntry{
		TradeID:      "t-1",
		UserID:       "12345",
		ChainID:      56,
		Kind:         "sell",
		TokenAddress: "0x000000000000000000000000000000000000dEaD",
		AmountIn:     "4000000",
		TxHash:       "0xabc",
		Status:       "confirmed",
		CreatedAt:    time.Now().UTC(),
	}

	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded trade.HistoryEntry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, entry.TradeID, decoded.TradeID)
	assert.Equal(t, entry.Kind, decoded.Kind)
	assert.Equal(t, entry.AmountIn, decoded.AmountIn)
}
