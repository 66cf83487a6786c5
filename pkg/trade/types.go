// Package trade orchestrates buy/sell execution against V2-style DEX routers:
// price discovery, slippage bounds, funds pre-checks, transaction signing,
// submission, and receipt tracking.
package trade

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hexlayer-labs/tradecore/pkg/chain"
)

var (
	// ErrInvalidRequest reports bad user input caught before any chain call.
	ErrInvalidRequest = errors.New("trade: invalid request")
	// ErrInsufficientFunds reports that the balance cannot cover the trade
	// amount plus estimated gas. Raised before any signing occurs.
	ErrInsufficientFunds = errors.New("trade: insufficient funds")
	// ErrQuoteExpired reports that the request deadline passed before
	// submission; the caller must re-quote.
	ErrQuoteExpired = errors.New("trade: quote expired")
	// ErrNoLiquidity reports that the router could not price the pair.
	ErrNoLiquidity = errors.New("trade: no liquidity for pair")
)

// Direction of a trade relative to the token.
type Direction string

const (
	// Buy spends the native coin for tokens; AmountIn is wei.
	Buy Direction = "buy"
	// Sell spends tokens for the native coin; AmountIn is the token's
	// smallest unit.
	Sell Direction = "sell"
)

// Request describes one trade. Immutable once built and consumed exactly once
// by the executor.
type Request struct {
	ID           string
	UserID       string
	ChainID      uint64
	Direction    Direction
	TokenAddress common.Address
	AmountIn     *big.Int
	SlippageBps  uint32
	// Deadline bounds how long the quote stays valid before submission is
	// aborted. Zero means the executor's default applies.
	Deadline time.Time
}

// Receipt is the outcome of one trade. A StatusPending receipt after a
// timeout is indeterminate, not failed: re-query by TxHash.
type Receipt struct {
	TradeID     string         `json:"trade_id"`
	TxHash      string         `json:"tx_hash"`
	Status      chain.TxStatus `json:"status"`
	GasUsed     uint64         `json:"gas_used,omitempty"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	AmountIn    *big.Int       `json:"amount_in"`
	QuotedOut   *big.Int       `json:"quoted_out"`
	MinOut      *big.Int       `json:"min_out"`
	// EffectivePrice is the quoted output per one whole input unit, rendered
	// with integer arithmetic.
	EffectivePrice string `json:"effective_price,omitempty"`
}

// TransferRequest moves native coin or tokens to another address.
// TokenAddress nil means a native-coin transfer.
type TransferRequest struct {
	UserID       string
	ChainID      uint64
	TokenAddress *common.Address
	To           common.Address
	Amount       *big.Int
}

// HistoryEntry is the persisted trace of an executed trade or transfer.
type HistoryEntry struct {
	TradeID      string    `json:"trade_id"`
	UserID       string    `json:"user_id"`
	ChainID      uint64    `json:"chain_id"`
	Kind         string    `json:"kind"` // "buy", "sell", "transfer"
	TokenAddress string    `json:"token_address,omitempty"`
	AmountIn     string    `json:"amount_in"`
	TxHash       string    `json:"tx_hash"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryStore records executed trades. Optional: a nil store disables
// history. Append failures are logged, never fatal to the trade.
type HistoryStore interface {
	Append(ctx context.Context, entry *HistoryEntry) error
	List(ctx context.Context, userID string, limit int) ([]*HistoryEntry, error)
}

// Config carries the process-wide trading knobs, loaded once at startup.
type Config struct {
	DefaultSlippageBps uint32
	// GasMultiplier boosts the node's suggested gas price for faster
	// inclusion.
	GasMultiplier float64
	// GasLimitMarginPct pads the gas estimate, e.g. 20 for +20%.
	GasLimitMarginPct uint64
	// ReceiptTimeout bounds receipt polling before the trade is reported
	// pending.
	ReceiptTimeout time.Duration
	// SwapDeadline is the router-level deadline attached to swaps.
	SwapDeadline time.Duration
	// QuoteValidity is the default Request.Deadline window.
	QuoteValidity time.Duration
}
