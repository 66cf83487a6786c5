package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// receiptPollInterval is how often AwaitReceipt re-queries the node.
const receiptPollInterval = 2 * time.Second

// rpcBackend is the slice of ethclient the gateway depends on. Narrowed to an
// interface so tests can substitute a fake node.
type rpcBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

type node struct {
	cfg    Config
	client rpcBackend
}

// EVMGateway implements Gateway for EVM chains over JSON-RPC.
type EVMGateway struct {
	nodes map[uint64]*node
	order []uint64
	log   zerolog.Logger
}

// NewEVMGateway dials every configured chain. A chain that fails to dial is a
// startup error: a half-configured gateway would fail requests unpredictably
// later.
func NewEVMGateway(cfgs []Config, log zerolog.Logger) (*EVMGateway, error) {
	g := &EVMGateway{
		nodes: make(map[uint64]*node, len(cfgs)),
		log:   log.With().Str("component", "chain").Logger(),
	}
	for _, cfg := range cfgs {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("dial %s rpc: %w", cfg.Name, err)
		}
		g.nodes[cfg.ChainID] = &node{cfg: cfg, client: client}
		g.order = append(g.order, cfg.ChainID)
		g.log.Info().Str("chain", cfg.Name).Uint64("chain_id", cfg.ChainID).Msg("chain configured")
	}
	return g, nil
}

// newWithBackends builds a gateway from pre-constructed backends. Test hook.
func newWithBackends(cfgs []Config, backends map[uint64]rpcBackend, log zerolog.Logger) *EVMGateway {
	g := &EVMGateway{nodes: make(map[uint64]*node, len(cfgs)), log: log}
	for _, cfg := range cfgs {
		g.nodes[cfg.ChainID] = &node{cfg: cfg, client: backends[cfg.ChainID]}
		g.order = append(g.order, cfg.ChainID)
	}
	return g
}

// Close releases every RPC connection.
func (g *EVMGateway) Close() {
	for _, n := range g.nodes {
		if n.client != nil {
			n.client.Close()
		}
	}
}

func (g *EVMGateway) node(chainID uint64) (*node, error) {
	n, ok := g.nodes[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return n, nil
}

// Chain resolves the static configuration for a chain ID.
func (g *EVMGateway) Chain(chainID uint64) (Config, error) {
	n, err := g.node(chainID)
	if err != nil {
		return Config{}, err
	}
	return n.cfg, nil
}

// Chains lists every configured chain in registration order.
func (g *EVMGateway) Chains() []Config {
	out := make([]Config, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].cfg)
	}
	return out
}

// NativeBalance returns the native-coin balance in wei.
func (g *EVMGateway) NativeBalance(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	err = withRetry(ctx, n.cfg.Name, "balance", func() error {
		var callErr error
		balance, callErr = n.client.BalanceAt(ctx, addr, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get balance on %s: %w", n.cfg.Name, err)
	}
	return balance, nil
}

// GasPrice returns the node's suggested gas price in wei.
func (g *EVMGateway) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}
	var price *big.Int
	err = withRetry(ctx, n.cfg.Name, "gas_price", func() error {
		var callErr error
		price, callErr = n.client.SuggestGasPrice(ctx)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get gas price on %s: %w", n.cfg.Name, err)
	}
	return price, nil
}

// EstimateGas simulates the call and returns the gas units it needs. A revert
// during estimation surfaces as a permanent error with no retry.
func (g *EVMGateway) EstimateGas(ctx context.Context, chainID uint64, msg ethereum.CallMsg) (uint64, error) {
	n, err := g.node(chainID)
	if err != nil {
		return 0, err
	}
	var units uint64
	err = withRetry(ctx, n.cfg.Name, "estimate_gas", func() error {
		var callErr error
		units, callErr = n.client.EstimateGas(ctx, msg)
		return callErr
	})
	if err != nil {
		return 0, fmt.Errorf("estimate gas on %s: %w", n.cfg.Name, err)
	}
	return units, nil
}

// PendingNonce returns the next nonce including queued transactions.
func (g *EVMGateway) PendingNonce(ctx context.Context, chainID uint64, addr common.Address) (uint64, error) {
	n, err := g.node(chainID)
	if err != nil {
		return 0, err
	}
	var nonce uint64
	err = withRetry(ctx, n.cfg.Name, "nonce", func() error {
		var callErr error
		nonce, callErr = n.client.PendingNonceAt(ctx, addr)
		return callErr
	})
	if err != nil {
		return 0, fmt.Errorf("get nonce on %s: %w", n.cfg.Name, err)
	}
	return nonce, nil
}

// Code returns the deployed bytecode at an address, empty for EOAs.
func (g *EVMGateway) Code(ctx context.Context, chainID uint64, addr common.Address) ([]byte, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}
	var code []byte
	err = withRetry(ctx, n.cfg.Name, "code", func() error {
		var callErr error
		code, callErr = n.client.CodeAt(ctx, addr, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get code on %s: %w", n.cfg.Name, err)
	}
	return code, nil
}

// Call executes a read-only contract call at the latest block.
func (g *EVMGateway) Call(ctx context.Context, chainID uint64, msg ethereum.CallMsg) ([]byte, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = withRetry(ctx, n.cfg.Name, "call", func() error {
		var callErr error
		out, callErr = n.client.CallContract(ctx, msg, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("contract call on %s: %w", n.cfg.Name, err)
	}
	return out, nil
}

// BlockTimestamp returns the latest block's timestamp, used to anchor router
// deadlines to chain time instead of local clocks.
func (g *EVMGateway) BlockTimestamp(ctx context.Context, chainID uint64) (uint64, error) {
	n, err := g.node(chainID)
	if err != nil {
		return 0, err
	}
	var ts uint64
	err = withRetry(ctx, n.cfg.Name, "header", func() error {
		header, callErr := n.client.HeaderByNumber(ctx, nil)
		if callErr != nil {
			return callErr
		}
		ts = header.Time
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get latest header on %s: %w", n.cfg.Name, err)
	}
	return ts, nil
}

// SubmitRaw broadcasts an RLP-encoded signed transaction. Submission is never
// retried: a transient failure after broadcast would risk a duplicate send.
func (g *EVMGateway) SubmitRaw(ctx context.Context, chainID uint64, rawTx []byte) (common.Hash, error) {
	n, err := g.node(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return common.Hash{}, fmt.Errorf("decode signed transaction: %w", err)
	}
	if err := n.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction on %s: %w", n.cfg.Name, err)
	}
	g.log.Info().Str("chain", n.cfg.Name).Str("tx", tx.Hash().Hex()).Msg("transaction submitted")
	return tx.Hash(), nil
}

// AwaitReceipt polls for the transaction receipt until mined or timeout.
func (g *EVMGateway) AwaitReceipt(ctx context.Context, chainID uint64, txHash common.Hash, timeout time.Duration) (*Receipt, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := n.client.TransactionReceipt(pollCtx, txHash)
		if err == nil {
			return convertReceipt(txHash, receipt), nil
		}
		select {
		case <-pollCtx.Done():
			return nil, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, txHash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

// Receipt fetches the receipt once. Not-yet-mined transactions come back as
// StatusPending rather than an error, so callers can re-query idempotently.
func (g *EVMGateway) Receipt(ctx context.Context, chainID uint64, txHash common.Hash) (*Receipt, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}
	receipt, err := n.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return &Receipt{TxHash: txHash.Hex(), Status: StatusPending}, nil
	}
	return convertReceipt(txHash, receipt), nil
}

// Info reports connectivity for one chain.
func (g *EVMGateway) Info(ctx context.Context, chainID uint64) (*Info, error) {
	n, err := g.node(chainID)
	if err != nil {
		return nil, err
	}
	block, err := n.client.BlockNumber(ctx)
	if err != nil {
		return &Info{ChainID: n.cfg.ChainID, Name: n.cfg.Name, Connected: false}, nil
	}
	return &Info{ChainID: n.cfg.ChainID, Name: n.cfg.Name, LatestBlock: block, Connected: true}, nil
}

func convertReceipt(txHash common.Hash, r *types.Receipt) *Receipt {
	status := StatusConfirmed
	if r.Status != types.ReceiptStatusSuccessful {
		status = StatusReverted
	}
	out := &Receipt{
		TxHash:  txHash.Hex(),
		Status:  status,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
