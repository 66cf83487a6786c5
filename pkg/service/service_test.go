package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexlayer-labs/tradecore/internal/store/memstore"
	"github.com/hexlayer-labs/tradecore/pkg/chain"
	"github.com/hexlayer-labs/tradecore/pkg/token"
	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/vault"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

var (
	svcRouter = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	svcWETH   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	svcToken  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

const svcCallsABI = `[
	{"inputs":[],"name":"name","outputs":[{"type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"totalSupply","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"owner","outputs":[{"type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"address"}],"name":"balanceOf","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"address"},{"type":"address"}],"name":"allowance","outputs":[{"type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"uint256"},{"type":"address[]"}],"name":"getAmountsOut","outputs":[{"type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

// svcGateway scripts every chain response the service stack needs.
type svcGateway struct {
	cfg   chain.Config
	calls abi.ABI

	nativeBalance *big.Int
	tokenBalance  *big.Int
	quote         *big.Int

	mu        sync.Mutex
	submitted []*types.Transaction
}

func newSvcGateway() *svcGateway {
	calls, err := abi.JSON(strings.NewReader(svcCallsABI))
	if err != nil {
		panic(err)
	}
	return &svcGateway{
		cfg: chain.Config{
			ChainID:         1,
			Name:            "ethereum",
			NativeSymbol:    "ETH",
			NativeDecimals:  18,
			ExplorerBaseURL: "https://etherscan.io",
			RouterAddress:   svcRouter,
			WrappedNative:   svcWETH,
		},
		calls:         calls,
		nativeBalance: new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)),
		tokenBalance:  big.NewInt(0),
		quote:         big.NewInt(2_000_000),
	}
}

func (g *svcGateway) Chain(chainID uint64) (chain.Config, error) {
	if chainID != g.cfg.ChainID {
		return chain.Config{}, chain.ErrUnsupportedChain
	}
	return g.cfg, nil
}

func (g *svcGateway) Chains() []chain.Config { return []chain.Config{g.cfg} }

func (g *svcGateway) NativeBalance(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error) {
	return new(big.Int).Set(g.nativeBalance), nil
}

func (g *svcGateway) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	return big.NewInt(10_000_000_000), nil
}

func (g *svcGateway) EstimateGas(ctx context.Context, chainID uint64, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (g *svcGateway) PendingNonce(ctx context.Context, chainID uint64, addr common.Address) (uint64, error) {
	return 0, nil
}

func (g *svcGateway) Code(ctx context.Context, chainID uint64, addr common.Address) ([]byte, error) {
	return []byte{0x60, 0x80, 0x60, 0x40}, nil
}

func (g *svcGateway) Call(ctx context.Context, chainID uint64, msg ethereum.CallMsg) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("malformed call")
	}
	method, err := g.calls.MethodById(msg.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted")
	}
	switch method.Name {
	case "name":
		return method.Outputs.Pack("Dai Stablecoin")
	case "symbol":
		return method.Outputs.Pack("DAI")
	case "decimals":
		return method.Outputs.Pack(uint8(18))
	case "totalSupply":
		return method.Outputs.Pack(new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18)))
	case "owner":
		return method.Outputs.Pack(common.Address{})
	case "balanceOf":
		return method.Outputs.Pack(new(big.Int).Set(g.tokenBalance))
	case "allowance":
		return method.Outputs.Pack(new(big.Int).Mul(big.NewInt(1e9), big.NewInt(1e18)))
	case "getAmountsOut":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		amountIn := args[0].(*big.Int)
		return method.Outputs.Pack([]*big.Int{amountIn, new(big.Int).Set(g.quote)})
	}
	return nil, fmt.Errorf("execution reverted")
}

func (g *svcGateway) BlockTimestamp(ctx context.Context, chainID uint64) (uint64, error) {
	return 1_700_000_000, nil
}

func (g *svcGateway) SubmitRaw(ctx context.Context, chainID uint64, rawTx []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return common.Hash{}, err
	}
	g.mu.Lock()
	g.submitted = append(g.submitted, tx)
	g.mu.Unlock()
	return tx.Hash(), nil
}

func (g *svcGateway) AwaitReceipt(ctx context.Context, chainID uint64, txHash common.Hash, timeout time.Duration) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: txHash.Hex(), Status: chain.StatusConfirmed, GasUsed: 21_000, BlockNumber: 42}, nil
}

func (g *svcGateway) Receipt(ctx context.Context, chainID uint64, txHash common.Hash) (*chain.Receipt, error) {
	return &chain.Receipt{TxHash: txHash.Hex(), Status: chain.StatusConfirmed}, nil
}

func (g *svcGateway) Info(ctx context.Context, chainID uint64) (*chain.Info, error) {
	return &chain.Info{ChainID: chainID, Name: g.cfg.Name, LatestBlock: 42, Connected: true}, nil
}

func (g *svcGateway) Close() {}

func (g *svcGateway) lastTx(t *testing.T) *types.Transaction {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.submitted)
	return g.submitted[len(g.submitted)-1]
}

func newTestService(t *testing.T) (*Service, *svcGateway) {
	t.Helper()
	gateway := newSvcGateway()
	v, err := vault.New("service-test-secret")
	require.NoError(t, err)
	wallets := wallet.NewManager(memstore.NewWallets(), v, zerolog.Nop())
	inspector := token.NewInspector(gateway, zerolog.Nop())
	executor := trade.NewExecutor(gateway, wallets, inspector, memstore.NewHistory(), trade.Config{
		DefaultSlippageBps: 50,
		GasMultiplier:      1.5,
		GasLimitMarginPct:  20,
		ReceiptTimeout:     time.Second,
		SwapDeadline:       20 * time.Minute,
		QuoteValidity:      time.Minute,
	}, zerolog.Nop())

	svc := New(gateway, wallets, inspector, executor, Options{
		ExportTokenSecret: []byte("export-secret"),
		ExportTokenTTL:    time.Minute,
	}, zerolog.Nop())
	return svc, gateway
}

func TestWalletLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	view, err := svc.CreateWallet(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(view.Address))

	got, err := svc.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, view.Address, got.Address)

	_, err = svc.CreateWallet(ctx, "alice")
	assert.ErrorIs(t, err, wallet.ErrWalletExists)

	require.NoError(t, svc.DeleteWallet(ctx, "alice"))
	_, err = svc.Wallet(ctx, "alice")
	assert.ErrorIs(t, err, wallet.ErrNoWallet)
}

func TestExportFlow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	// No wallet, no token.
	_, err := svc.RequestExportToken(ctx, "alice")
	require.ErrorIs(t, err, wallet.ErrNoWallet)

	_, err = svc.CreateWallet(ctx, "alice")
	require.NoError(t, err)

	confirmation, err := svc.RequestExportToken(ctx, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, confirmation)

	// A token minted for alice must not export bob's key.
	_, err = svc.CreateWallet(ctx, "bob")
	require.NoError(t, err)
	_, err = svc.ExportKey(ctx, "bob", confirmation)
	assert.ErrorIs(t, err, ErrBadExportToken)

	// Garbage and tampered tokens are rejected.
	_, err = svc.ExportKey(ctx, "alice", "not-a-token")
	assert.ErrorIs(t, err, ErrBadExportToken)
	_, err = svc.ExportKey(ctx, "alice", confirmation+"x")
	assert.ErrorIs(t, err, ErrBadExportToken)

	exported, err := svc.ExportKey(ctx, "alice", confirmation)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(exported, "0x"))
	assert.Len(t, exported, 2+64)
}

func TestExportTokenExpires(t *testing.T) {
	tokens := newExportTokens([]byte("secret"), time.Nanosecond)
	confirmation, err := tokens.mint("alice")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.ErrorIs(t, tokens.verify("alice", confirmation), ErrBadExportToken)
}

func TestNativeBalance(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateWallet(ctx, "alice")
	require.NoError(t, err)

	view, err := svc.NativeBalance(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, "ETH", view.Symbol)
	assert.Equal(t, "3000000000000000000", view.Raw)
	assert.Equal(t, "3", view.Display)
}

func TestTokenBalance(t *testing.T) {
	ctx := context.Background()
	svc, gateway := newTestService(t)
	gateway.tokenBalance = new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)) // 1.5

	_, err := svc.CreateWallet(ctx, "alice")
	require.NoError(t, err)

	view, err := svc.TokenBalance(ctx, "alice", 1, svcToken.Hex())
	require.NoError(t, err)
	assert.Equal(t, "DAI", view.Symbol)
	assert.Equal(t, "1.5", view.Display)
}

func TestScanToken(t *testing.T) {
	svc, _ := newTestService(t)

	info, err := svc.ScanToken(context.Background(), 1, svcToken.Hex())
	require.NoError(t, err)
	assert.Equal(t, "DAI", info.Symbol)
	assert.Equal(t, "Dai Stablecoin", info.Name)
	assert.Contains(t, info.Flags, token.FlagOwnershipRenounced)

	_, err = svc.ScanToken(context.Background(), 1, "not-an-address")
	assert.ErrorIs(t, err, ErrBadAddress)
}

func TestExecuteTradeParsesWholeUnits(t *testing.T) {
	ctx := context.Background()
	svc, gateway := newTestService(t)

	_, err := svc.CreateWallet(ctx, "alice")
	require.NoError(t, err)

	result, err := svc.ExecuteTrade(ctx, &TradeParams{
		UserID:       "alice",
		ChainID:      1,
		Direction:    trade.Buy,
		TokenAddress: svcToken.Hex(),
		Amount:       "0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, chain.StatusConfirmed, result.Status)
	assert.Equal(t, "https://etherscan.io/tx/"+result.TxHash, result.ExplorerURL)

	// "0.5" ETH becomes 5e17 wei on the wire.
	tx := gateway.lastTx(t)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(5), big.NewInt(1e17)), tx.Value())
}

func TestExecuteTradeRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.ExecuteTrade(ctx, &TradeParams{
		UserID: "alice", ChainID: 1, Direction: trade.Buy,
		TokenAddress: "nope", Amount: "1",
	})
	assert.ErrorIs(t, err, ErrBadAddress)

	_, err = svc.ExecuteTrade(ctx, &TradeParams{
		UserID: "alice", ChainID: 1, Direction: trade.Buy,
		TokenAddress: svcToken.Hex(), Amount: "one ether",
	})
	assert.ErrorIs(t, err, trade.ErrInvalidRequest)

	_, err = svc.ExecuteTrade(ctx, &TradeParams{
		UserID: "alice", ChainID: 999, Direction: trade.Buy,
		TokenAddress: svcToken.Hex(), Amount: "1",
	})
	assert.ErrorIs(t, err, chain.ErrUnsupportedChain)
}

func TestQuoteTrade(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	quoted, minOut, err := svc.QuoteTrade(ctx, &TradeParams{
		UserID:       "alice",
		ChainID:      1,
		Direction:    trade.Buy,
		TokenAddress: svcToken.Hex(),
		Amount:       "1",
		SlippageBps:  500,
	})
	require.NoError(t, err)
	assert.Equal(t, "2000000", quoted)
	assert.Equal(t, "1900000", minOut)
}

func TestTransferNativeWholeUnits(t *testing.T) {
	ctx := context.Background()
	svc, gateway := newTestService(t)

	_, err := svc.CreateWallet(ctx, "alice")
	require.NoError(t, err)

	to := common.HexToAddress("0x4444444444444444444444444444444444444444")
	result, err := svc.Transfer(ctx, "alice", 1, "", to.Hex(), "0.25")
	require.NoError(t, err)
	assert.Equal(t, chain.StatusConfirmed, result.Status)

	tx := gateway.lastTx(t)
	assert.Equal(t, to, *tx.To())
	assert.Equal(t, new(big.Int).Mul(big.NewInt(25), big.NewInt(1e16)), tx.Value())
}

func TestChains(t *testing.T) {
	svc, _ := newTestService(t)

	chains := svc.Chains()
	require.Len(t, chains, 1)
	assert.Equal(t, uint64(1), chains[0].ChainID)

	info, err := svc.ChainInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, info.Connected)
}
