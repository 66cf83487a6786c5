package trade

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hexlayer-labs/tradecore/internal/metrics"
	"github.com/hexlayer-labs/tradecore/pkg/chain"
	"github.com/hexlayer-labs/tradecore/pkg/token"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

// fallbackSwapGas is used to budget the native balance for a sell's swap leg
// before the real estimate is available.
const fallbackSwapGas = 300_000

// Executor runs the trade state machine: Built -> Signed -> Submitted ->
// Pending -> Confirmed|Failed|Reverted. One executor serves all users; trades
// for the same (chain, address) serialize on a nonce lock.
type Executor struct {
	gateway   chain.Gateway
	wallets   *wallet.Manager
	inspector *token.Inspector
	history   HistoryStore
	cfg       Config
	log       zerolog.Logger

	mu         sync.Mutex
	nonceLocks map[string]*sync.Mutex
}

// NewExecutor wires the executor. history may be nil to disable trade logging.
func NewExecutor(gateway chain.Gateway, wallets *wallet.Manager, inspector *token.Inspector, history HistoryStore, cfg Config, log zerolog.Logger) *Executor {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 120 * time.Second
	}
	if cfg.SwapDeadline <= 0 {
		cfg.SwapDeadline = 20 * time.Minute
	}
	if cfg.QuoteValidity <= 0 {
		cfg.QuoteValidity = 60 * time.Second
	}
	if cfg.GasMultiplier < 1.0 {
		cfg.GasMultiplier = 1.0
	}
	return &Executor{
		gateway:    gateway,
		wallets:    wallets,
		inspector:  inspector,
		history:    history,
		cfg:        cfg,
		log:        log.With().Str("component", "trade").Logger(),
		nonceLocks: make(map[string]*sync.Mutex),
	}
}

// lockNonce serializes nonce allocation per (chain, address).
func (e *Executor) lockNonce(chainID uint64, addr common.Address) func() {
	key := fmt.Sprintf("%d:%s", chainID, addr.Hex())
	e.mu.Lock()
	lock, ok := e.nonceLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.nonceLocks[key] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Quote prices a request without executing it. Returns the quoted output and
// the slippage-adjusted minimum.
func (e *Executor) Quote(ctx context.Context, req *Request) (quoted, minOut *big.Int, err error) {
	if err := e.validate(req); err != nil {
		return nil, nil, err
	}
	cfg, err := e.gateway.Chain(req.ChainID)
	if err != nil {
		return nil, nil, err
	}
	path := e.path(cfg, req)
	quoted, err = quoteAmountOut(ctx, e.gateway, req.ChainID, cfg.RouterAddress, req.AmountIn, path)
	if err != nil {
		return nil, nil, err
	}
	return quoted, applySlippage(quoted, e.slippage(req)), nil
}

// Execute runs a trade end to end. On receipt timeout the returned receipt
// has StatusPending and a non-empty TxHash; the trade is indeterminate, not
// failed, and can be re-queried with Status.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Receipt, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	cfg, err := e.gateway.Chain(req.ChainID)
	if err != nil {
		return nil, err
	}
	record, err := e.wallets.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	owner := common.HexToAddress(record.Address)

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(e.cfg.QuoteValidity)
	}
	// A stale deadline aborts here, before any transaction (including a
	// sell's approve) can be signed or broadcast.
	if time.Now().After(deadline) {
		return nil, fmt.Errorf("%w: deadline already passed", ErrQuoteExpired)
	}

	// Price discovery and slippage bound.
	path := e.path(cfg, req)
	quoted, err := quoteAmountOut(ctx, e.gateway, req.ChainID, cfg.RouterAddress, req.AmountIn, path)
	if err != nil {
		return nil, err
	}
	slippageBps := e.slippage(req)
	minOut := applySlippage(quoted, slippageBps)

	receipt := &Receipt{
		TradeID:   req.ID,
		AmountIn:  req.AmountIn,
		QuotedOut: quoted,
		MinOut:    minOut,
	}
	e.priceIntoReceipt(ctx, receipt, cfg, req, quoted)

	// Nonce allocation is atomic per (chain, address) from here to submit.
	unlock := e.lockNonce(req.ChainID, owner)
	defer unlock()

	gasPrice, err := e.boostedGasPrice(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}
	nonce, err := e.gateway.PendingNonce(ctx, req.ChainID, owner)
	if err != nil {
		return nil, err
	}

	nativeBalance, err := e.gateway.NativeBalance(ctx, req.ChainID, owner)
	if err != nil {
		return nil, err
	}

	var value *big.Int
	var swapData []byte
	routerDeadline := e.routerDeadline(ctx, req.ChainID)

	switch req.Direction {
	case Buy:
		// The trade amount itself must be coverable before estimation: an
		// estimate with value > balance fails with an opaque node error.
		if nativeBalance.Cmp(req.AmountIn) < 0 {
			return nil, fmt.Errorf("%w: balance %s wei, trade needs %s wei", ErrInsufficientFunds, nativeBalance, req.AmountIn)
		}
		value = req.AmountIn
		swapData, err = packSwapExactETHForTokens(minOut, path, owner, routerDeadline)
		if err != nil {
			return nil, err
		}

	case Sell:
		tokenBalance, err := e.inspector.BalanceOf(ctx, req.ChainID, req.TokenAddress, owner)
		if err != nil {
			return nil, err
		}
		if tokenBalance.Cmp(req.AmountIn) < 0 {
			return nil, fmt.Errorf("%w: token balance %s, sell needs %s", ErrInsufficientFunds, tokenBalance, req.AmountIn)
		}
		nonce, err = e.ensureAllowance(ctx, req, cfg, owner, nonce, gasPrice, nativeBalance)
		if err != nil {
			return nil, err
		}
		value = big.NewInt(0)
		swapData, err = packSwapExactTokensForETH(req.AmountIn, minOut, path, owner, routerDeadline)
		if err != nil {
			return nil, err
		}
	}

	// Estimate the swap; a revert here is surfaced before anything is signed.
	gasLimit, err := e.estimateWithMargin(ctx, req.ChainID, ethereum.CallMsg{
		From:  owner,
		To:    &cfg.RouterAddress,
		Value: value,
		Data:  swapData,
	})
	if err != nil {
		return nil, fmt.Errorf("swap would fail: %w", err)
	}

	// Full funds pre-check: estimated gas cost plus trade amount must fit in
	// the native balance. Nothing has been signed yet.
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	need := new(big.Int).Set(gasCost)
	if req.Direction == Buy {
		need.Add(need, req.AmountIn)
	}
	if nativeBalance.Cmp(need) < 0 {
		return nil, fmt.Errorf("%w: balance %s wei, need %s wei (amount + gas)", ErrInsufficientFunds, nativeBalance, need)
	}

	// The quote must still be fresh when we commit to signing.
	if time.Now().After(deadline) {
		return nil, fmt.Errorf("%w: quote older than %s", ErrQuoteExpired, time.Since(deadline)+e.cfg.QuoteValidity)
	}

	txHash, err := e.signAndSubmit(ctx, req.UserID, req.ChainID, &types.LegacyTx{
		Nonce:    nonce,
		To:       &cfg.RouterAddress,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     swapData,
	})
	if err != nil {
		return nil, err
	}
	receipt.TxHash = txHash.Hex()
	receipt.Status = chain.StatusPending

	e.log.Info().
		Str("trade", req.ID).
		Str("chain", cfg.Name).
		Str("direction", string(req.Direction)).
		Str("tx", receipt.TxHash).
		Msg("trade submitted")

	e.awaitInto(ctx, req.ChainID, txHash, receipt)
	metrics.TradesTotal.WithLabelValues(cfg.Name, string(req.Direction), string(receipt.Status)).Inc()
	e.record(ctx, req, receipt)
	return receipt, nil
}

// Status re-queries a submitted trade by hash. Idempotent read; it never
// re-submits anything.
func (e *Executor) Status(ctx context.Context, chainID uint64, txHash string) (*chain.Receipt, error) {
	return e.gateway.Receipt(ctx, chainID, common.HexToHash(txHash))
}

// Transfer moves native coin (TokenAddress nil) or tokens to another address
// through the same pre-check/sign/submit/poll pipeline as trades.
func (e *Executor) Transfer(ctx context.Context, req *TransferRequest) (*Receipt, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if _, err := e.gateway.Chain(req.ChainID); err != nil {
		return nil, err
	}
	record, err := e.wallets.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	owner := common.HexToAddress(record.Address)

	unlock := e.lockNonce(req.ChainID, owner)
	defer unlock()

	gasPrice, err := e.boostedGasPrice(ctx, req.ChainID)
	if err != nil {
		return nil, err
	}
	nonce, err := e.gateway.PendingNonce(ctx, req.ChainID, owner)
	if err != nil {
		return nil, err
	}
	nativeBalance, err := e.gateway.NativeBalance(ctx, req.ChainID, owner)
	if err != nil {
		return nil, err
	}

	var to common.Address
	var value *big.Int
	var data []byte

	if req.TokenAddress == nil {
		to = req.To
		value = req.Amount
		if nativeBalance.Cmp(req.Amount) < 0 {
			return nil, fmt.Errorf("%w: balance %s wei, transfer needs %s wei", ErrInsufficientFunds, nativeBalance, req.Amount)
		}
	} else {
		tokenBalance, err := e.inspector.BalanceOf(ctx, req.ChainID, *req.TokenAddress, owner)
		if err != nil {
			return nil, err
		}
		if tokenBalance.Cmp(req.Amount) < 0 {
			return nil, fmt.Errorf("%w: token balance %s, transfer needs %s", ErrInsufficientFunds, tokenBalance, req.Amount)
		}
		to = *req.TokenAddress
		value = big.NewInt(0)
		if data, err = token.PackTransfer(req.To, req.Amount); err != nil {
			return nil, err
		}
	}

	gasLimit, err := e.estimateWithMargin(ctx, req.ChainID, ethereum.CallMsg{
		From:  owner,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, fmt.Errorf("transfer would fail: %w", err)
	}

	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	need := new(big.Int).Add(gasCost, value)
	if nativeBalance.Cmp(need) < 0 {
		return nil, fmt.Errorf("%w: balance %s wei, need %s wei (amount + gas)", ErrInsufficientFunds, nativeBalance, need)
	}

	txHash, err := e.signAndSubmit(ctx, req.UserID, req.ChainID, &types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		TradeID:  uuid.NewString(),
		TxHash:   txHash.Hex(),
		Status:   chain.StatusPending,
		AmountIn: req.Amount,
	}
	e.awaitInto(ctx, req.ChainID, txHash, receipt)

	if e.history != nil {
		entry := &HistoryEntry{
			TradeID:   receipt.TradeID,
			UserID:    req.UserID,
			ChainID:   req.ChainID,
			Kind:      "transfer",
			AmountIn:  req.Amount.String(),
			TxHash:    receipt.TxHash,
			Status:    string(receipt.Status),
			CreatedAt: time.Now().UTC(),
		}
		if req.TokenAddress != nil {
			entry.TokenAddress = req.TokenAddress.Hex()
		}
		if err := e.history.Append(ctx, entry); err != nil {
			e.log.Warn().Err(err).Str("trade", receipt.TradeID).Msg("history append failed")
		}
	}
	return receipt, nil
}

// History lists the most recent trades for a user.
func (e *Executor) History(ctx context.Context, userID string, limit int) ([]*HistoryEntry, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.List(ctx, userID, limit)
}

// ensureAllowance checks the router allowance for a sell and, when short,
// submits an approve for the exact sell amount. Returns the nonce the swap
// should use.
func (e *Executor) ensureAllowance(ctx context.Context, req *Request, cfg chain.Config, owner common.Address, nonce uint64, gasPrice, nativeBalance *big.Int) (uint64, error) {
	allowance, err := e.inspector.Allowance(ctx, req.ChainID, req.TokenAddress, owner, cfg.RouterAddress)
	if err != nil {
		return 0, err
	}
	if allowance.Cmp(req.AmountIn) >= 0 {
		return nonce, nil
	}

	approveData, err := token.PackApprove(cfg.RouterAddress, req.AmountIn)
	if err != nil {
		return 0, err
	}
	gasLimit, err := e.estimateWithMargin(ctx, req.ChainID, ethereum.CallMsg{
		From: owner,
		To:   &req.TokenAddress,
		Data: approveData,
	})
	if err != nil {
		return 0, fmt.Errorf("approve would fail: %w", err)
	}

	// The native balance must cover the approve plus a budget for the swap
	// that follows; otherwise we would sign an approve doomed to strand.
	approveCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	swapBudget := new(big.Int).Mul(gasPrice, big.NewInt(fallbackSwapGas))
	if nativeBalance.Cmp(new(big.Int).Add(approveCost, swapBudget)) < 0 {
		return 0, fmt.Errorf("%w: balance %s wei cannot cover approve + swap gas", ErrInsufficientFunds, nativeBalance)
	}

	txHash, err := e.signAndSubmit(ctx, req.UserID, req.ChainID, &types.LegacyTx{
		Nonce:    nonce,
		To:       &req.TokenAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     approveData,
	})
	if err != nil {
		return 0, fmt.Errorf("submit approve: %w", err)
	}
	e.log.Info().Str("trade", req.ID).Str("tx", txHash.Hex()).Msg("approval submitted")

	approveReceipt, err := e.gateway.AwaitReceipt(ctx, req.ChainID, txHash, e.cfg.ReceiptTimeout)
	if err != nil {
		return 0, fmt.Errorf("approve not mined: %w", err)
	}
	if approveReceipt.Status != chain.StatusConfirmed {
		return 0, fmt.Errorf("approve reverted in tx %s", txHash.Hex())
	}
	return nonce + 1, nil
}

// signAndSubmit decrypts the user's key only for the scope of the signature,
// then broadcasts the raw transaction.
func (e *Executor) signAndSubmit(ctx context.Context, userID string, chainID uint64, txData *types.LegacyTx) (common.Hash, error) {
	var raw []byte
	err := e.wallets.WithSigningKey(ctx, userID, func(record *wallet.Record, key *ecdsa.PrivateKey) error {
		signer := types.NewEIP155Signer(new(big.Int).SetUint64(chainID))
		signed, err := types.SignTx(types.NewTx(txData), signer, key)
		if err != nil {
			return fmt.Errorf("sign transaction: %w", err)
		}
		raw, err = signed.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return e.gateway.SubmitRaw(ctx, chainID, raw)
}

// awaitInto polls for the receipt and fills the trade receipt in place. A
// timeout leaves the status pending with the hash set; any other polling
// error is logged and also leaves the trade pending.
func (e *Executor) awaitInto(ctx context.Context, chainID uint64, txHash common.Hash, receipt *Receipt) {
	mined, err := e.gateway.AwaitReceipt(ctx, chainID, txHash, e.cfg.ReceiptTimeout)
	if err != nil {
		if errors.Is(err, chain.ErrReceiptTimeout) {
			e.log.Warn().Str("tx", txHash.Hex()).Msg("receipt wait timed out, trade pending")
		} else {
			e.log.Warn().Err(err).Str("tx", txHash.Hex()).Msg("receipt poll failed, trade pending")
		}
		return
	}
	receipt.Status = mined.Status
	receipt.GasUsed = mined.GasUsed
	receipt.BlockNumber = mined.BlockNumber
}

// record appends the trade to history, best effort.
func (e *Executor) record(ctx context.Context, req *Request, receipt *Receipt) {
	if e.history == nil {
		return
	}
	entry := &HistoryEntry{
		TradeID:      req.ID,
		UserID:       req.UserID,
		ChainID:      req.ChainID,
		Kind:         string(req.Direction),
		TokenAddress: req.TokenAddress.Hex(),
		AmountIn:     req.AmountIn.String(),
		TxHash:       receipt.TxHash,
		Status:       string(receipt.Status),
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.history.Append(ctx, entry); err != nil {
		e.log.Warn().Err(err).Str("trade", req.ID).Msg("history append failed")
	}
}

func (e *Executor) validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.Direction != Buy && req.Direction != Sell {
		return fmt.Errorf("%w: direction must be buy or sell", ErrInvalidRequest)
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if req.SlippageBps >= 10_000 {
		return fmt.Errorf("%w: slippage must be below 10000 bps", ErrInvalidRequest)
	}
	if req.TokenAddress == (common.Address{}) {
		return fmt.Errorf("%w: token address must be set", ErrInvalidRequest)
	}
	return nil
}

func (e *Executor) slippage(req *Request) uint32 {
	if req.SlippageBps > 0 {
		return req.SlippageBps
	}
	return e.cfg.DefaultSlippageBps
}

// path builds the swap route through the wrapped native token.
func (e *Executor) path(cfg chain.Config, req *Request) []common.Address {
	if req.Direction == Buy {
		return []common.Address{cfg.WrappedNative, req.TokenAddress}
	}
	return []common.Address{req.TokenAddress, cfg.WrappedNative}
}

// boostedGasPrice applies the configured multiplier for faster inclusion.
func (e *Executor) boostedGasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	price, err := e.gateway.GasPrice(ctx, chainID)
	if err != nil {
		return nil, err
	}
	// Multiplier is applied in integer space: price * (mult*100) / 100.
	boosted := new(big.Int).Mul(price, big.NewInt(int64(e.cfg.GasMultiplier*100)))
	return boosted.Quo(boosted, big.NewInt(100)), nil
}

// estimateWithMargin pads the node's estimate by the configured percentage.
func (e *Executor) estimateWithMargin(ctx context.Context, chainID uint64, msg ethereum.CallMsg) (uint64, error) {
	estimated, err := e.gateway.EstimateGas(ctx, chainID, msg)
	if err != nil {
		return 0, err
	}
	return estimated * (100 + e.cfg.GasLimitMarginPct) / 100, nil
}

// routerDeadline anchors the swap deadline to chain time, falling back to the
// local clock when the header read fails.
func (e *Executor) routerDeadline(ctx context.Context, chainID uint64) *big.Int {
	secs := int64(e.cfg.SwapDeadline / time.Second)
	ts, err := e.gateway.BlockTimestamp(ctx, chainID)
	if err != nil {
		return big.NewInt(time.Now().Unix() + secs)
	}
	return new(big.Int).SetUint64(ts + uint64(secs))
}

// priceIntoReceipt renders the quoted price as output per whole input unit.
func (e *Executor) priceIntoReceipt(ctx context.Context, receipt *Receipt, cfg chain.Config, req *Request, quoted *big.Int) {
	var inDecimals, outDecimals uint8
	if req.Direction == Buy {
		inDecimals = cfg.NativeDecimals
		outDecimals, _ = e.inspector.Decimals(ctx, req.ChainID, req.TokenAddress)
	} else {
		inDecimals, _ = e.inspector.Decimals(ctx, req.ChainID, req.TokenAddress)
		outDecimals = cfg.NativeDecimals
	}
	if outDecimals == 0 && req.Direction == Buy {
		return
	}
	// price = quoted * 10^inDecimals / amountIn, in the output token's
	// smallest unit, then formatted with the output decimals.
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(inDecimals)), nil)
	price := new(big.Int).Mul(quoted, scale)
	price.Quo(price, req.AmountIn)
	receipt.EffectivePrice = token.FormatUnits(price, outDecimals)
}
