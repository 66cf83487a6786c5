package trade

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hexlayer-labs/tradecore/pkg/chain"
)

// routerABIJSON is the slice of the Uniswap/PancakeSwap V2 router the
// executor uses: quoting plus the two exact-in swap entry points.
const routerABIJSON = `[
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

var routerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse router abi: %v", err))
	}
	return parsed
}()

// quoteAmountOut asks the router how much the last hop of path yields for
// amountIn of the first hop.
func quoteAmountOut(ctx context.Context, gateway chain.Gateway, chainID uint64, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	result, err := gateway.Call(ctx, chainID, ethereum.CallMsg{To: &router, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoLiquidity, err)
	}

	var amounts []*big.Int
	if err := routerABI.UnpackIntoInterface(&amounts, "getAmountsOut", result); err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	if len(amounts) < 2 || amounts[len(amounts)-1] == nil {
		return nil, fmt.Errorf("%w: empty quote", ErrNoLiquidity)
	}
	out := amounts[len(amounts)-1]
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero output quoted", ErrNoLiquidity)
	}
	return out, nil
}

func packSwapExactETHForTokens(minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	data, err := routerABI.Pack("swapExactETHForTokens", minOut, path, to, deadline)
	if err != nil {
		return nil, fmt.Errorf("pack swapExactETHForTokens: %w", err)
	}
	return data, nil
}

func packSwapExactTokensForETH(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	data, err := routerABI.Pack("swapExactTokensForETH", amountIn, minOut, path, to, deadline)
	if err != nil {
		return nil, fmt.Errorf("pack swapExactTokensForETH: %w", err)
	}
	return data, nil
}

// applySlippage computes amount * (10000 - bps) / 10000 with integer
// arithmetic, rounding down.
func applySlippage(amount *big.Int, bps uint32) *big.Int {
	keep := big.NewInt(10_000 - int64(bps))
	out := new(big.Int).Mul(amount, keep)
	return out.Quo(out, big.NewInt(10_000))
}
