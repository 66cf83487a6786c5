// Package chain provides a uniform gateway over independently configured
// EVM-compatible networks. The gateway is a stateless RPC facade: it owns no
// persistent state and is safe to share across concurrent callers.
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnsupportedChain is returned when a chain ID has no configuration.
	ErrUnsupportedChain = errors.New("chain: unsupported chain id")
	// ErrUnavailable is returned when an RPC keeps failing transiently after
	// the retry budget is spent.
	ErrUnavailable = errors.New("chain: rpc unavailable")
	// ErrReceiptTimeout is returned by AwaitReceipt when the transaction was
	// not mined within the timeout. The outcome is indeterminate, not failed.
	ErrReceiptTimeout = errors.New("chain: receipt wait timed out")
)

// Config describes one EVM network. Loaded at startup and never mutated.
type Config struct {
	ChainID         uint64
	Name            string
	RPCURL          string
	NativeSymbol    string
	NativeDecimals  uint8
	ExplorerBaseURL string
	RouterAddress   common.Address
	WrappedNative   common.Address
}

// TxStatus is the lifecycle position of a submitted transaction.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusReverted  TxStatus = "reverted"
)

// Receipt is the engine's view of an on-chain confirmation record.
type Receipt struct {
	TxHash      string   `json:"tx_hash"`
	Status      TxStatus `json:"status"`
	GasUsed     uint64   `json:"gas_used,omitempty"`
	BlockNumber uint64   `json:"block_number,omitempty"`
}

// Info reports connectivity details for one chain.
type Info struct {
	ChainID     uint64 `json:"chain_id"`
	Name        string `json:"name"`
	LatestBlock uint64 `json:"latest_block"`
	Connected   bool   `json:"connected"`
}

// Gateway is the capability set the rest of the engine needs from a chain.
// One implementation per chain family, selected by chain ID lookup.
type Gateway interface {
	// Chain resolves the static configuration for a chain ID.
	Chain(chainID uint64) (Config, error)
	// Chains lists every configured chain.
	Chains() []Config

	NativeBalance(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error)
	GasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
	EstimateGas(ctx context.Context, chainID uint64, msg ethereum.CallMsg) (uint64, error)
	PendingNonce(ctx context.Context, chainID uint64, addr common.Address) (uint64, error)
	Code(ctx context.Context, chainID uint64, addr common.Address) ([]byte, error)
	Call(ctx context.Context, chainID uint64, msg ethereum.CallMsg) ([]byte, error)
	BlockTimestamp(ctx context.Context, chainID uint64) (uint64, error)

	// SubmitRaw broadcasts an RLP-encoded signed transaction and returns its
	// hash.
	SubmitRaw(ctx context.Context, chainID uint64, rawTx []byte) (common.Hash, error)
	// AwaitReceipt polls until the transaction is mined or the timeout
	// elapses, in which case it returns ErrReceiptTimeout.
	AwaitReceipt(ctx context.Context, chainID uint64, txHash common.Hash, timeout time.Duration) (*Receipt, error)
	// Receipt fetches the current receipt once, without waiting. Returns a
	// StatusPending receipt when the transaction is not yet mined.
	Receipt(ctx context.Context, chainID uint64, txHash common.Hash) (*Receipt, error)

	Info(ctx context.Context, chainID uint64) (*Info, error)
	Close()
}
