// Package token resolves ERC-20/BEP-20 metadata and heuristic risk signals.
//
// Everything here is freshly queried per call: supply and ownership can change
// between blocks, so nothing is cached or persisted. Flags are advisory only
// and never block a trade.
package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/hexlayer-labs/tradecore/internal/metrics"
	"github.com/hexlayer-labs/tradecore/pkg/chain"
)

// ErrNotAToken is returned when the address has no contract code or the
// standard metadata calls revert.
var ErrNotAToken = errors.New("token: address is not an ERC-20 contract")

// Flag names attached to TokenInfo. Non-exhaustive.
const (
	FlagMintable           = "mintable"
	FlagPausable           = "pausable"
	FlagOwnershipRenounced = "ownership-renounced"
	FlagLowDecimals        = "low-decimals"
)

// Function selectors scanned for in deployed bytecode. Selector presence is a
// best-effort signal: proxies and non-standard dispatchers can hide them.
var (
	selectorMintAddrAmount = []byte{0x40, 0xc1, 0x0f, 0x19} // mint(address,uint256)
	selectorMintAmount     = []byte{0xa0, 0x71, 0x2d, 0x68} // mint(uint256)
	selectorPause          = []byte{0x84, 0x56, 0xcb, 0x59} // pause()
)

// Info is the engine's view of a token contract at inspection time.
type Info struct {
	ContractAddress string   `json:"contract_address"`
	ChainID         uint64   `json:"chain_id"`
	Symbol          string   `json:"symbol"`
	Name            string   `json:"name"`
	Decimals        uint8    `json:"decimals"`
	TotalSupply     *big.Int `json:"total_supply"`
	// TotalSupplyDisplay is TotalSupply divided by 10^Decimals, rendered with
	// integer arithmetic only.
	TotalSupplyDisplay string   `json:"total_supply_display"`
	OwnerAddress       string   `json:"owner_address,omitempty"`
	Flags              []string `json:"flags,omitempty"`
}

// Inspector reads token contracts through the chain gateway. Stateless and
// safe for concurrent use.
type Inspector struct {
	gateway chain.Gateway
	log     zerolog.Logger
}

// NewInspector builds an inspector on top of the gateway.
func NewInspector(gateway chain.Gateway, log zerolog.Logger) *Inspector {
	return &Inspector{
		gateway: gateway,
		log:     log.With().Str("component", "token").Logger(),
	}
}

// Inspect reads the standard metadata for a token and annotates it with
// heuristic flags. Fails with ErrNotAToken when the address has no code or
// the mandatory calls revert.
func (i *Inspector) Inspect(ctx context.Context, chainID uint64, tokenAddress common.Address) (*Info, error) {
	cfg, err := i.gateway.Chain(chainID)
	if err != nil {
		return nil, err
	}

	code, err := i.gateway.Code(ctx, chainID, tokenAddress)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		metrics.TokenScansTotal.WithLabelValues(cfg.Name, "not_a_token").Inc()
		return nil, fmt.Errorf("%w: no code at %s", ErrNotAToken, tokenAddress.Hex())
	}

	info := &Info{
		ContractAddress: tokenAddress.Hex(),
		ChainID:         chainID,
	}

	// decimals and totalSupply are mandatory; a revert here means the
	// contract does not speak ERC-20.
	if err := i.callInto(ctx, chainID, tokenAddress, "decimals", &info.Decimals); err != nil {
		metrics.TokenScansTotal.WithLabelValues(cfg.Name, "not_a_token").Inc()
		return nil, fmt.Errorf("%w: decimals(): %v", ErrNotAToken, err)
	}
	if err := i.callInto(ctx, chainID, tokenAddress, "totalSupply", &info.TotalSupply); err != nil {
		metrics.TokenScansTotal.WithLabelValues(cfg.Name, "not_a_token").Inc()
		return nil, fmt.Errorf("%w: totalSupply(): %v", ErrNotAToken, err)
	}
	if err := i.callInto(ctx, chainID, tokenAddress, "symbol", &info.Symbol); err != nil {
		metrics.TokenScansTotal.WithLabelValues(cfg.Name, "not_a_token").Inc()
		return nil, fmt.Errorf("%w: symbol(): %v", ErrNotAToken, err)
	}
	// name is optional in practice; some old tokens omit it.
	_ = i.callInto(ctx, chainID, tokenAddress, "name", &info.Name)

	info.TotalSupplyDisplay = FormatUnits(info.TotalSupply, info.Decimals)

	// owner() is optional. A zero owner means ownership was renounced.
	var owner common.Address
	if err := i.callInto(ctx, chainID, tokenAddress, "owner", &owner); err == nil {
		if owner == (common.Address{}) {
			info.Flags = append(info.Flags, FlagOwnershipRenounced)
		} else {
			info.OwnerAddress = owner.Hex()
		}
	}

	if bytes.Contains(code, selectorMintAddrAmount) || bytes.Contains(code, selectorMintAmount) {
		info.Flags = append(info.Flags, FlagMintable)
	}
	if bytes.Contains(code, selectorPause) {
		info.Flags = append(info.Flags, FlagPausable)
	}
	if info.Decimals <= 2 {
		info.Flags = append(info.Flags, FlagLowDecimals)
	}

	metrics.TokenScansTotal.WithLabelValues(cfg.Name, "ok").Inc()
	i.log.Debug().
		Str("chain", cfg.Name).
		Str("token", tokenAddress.Hex()).
		Str("symbol", info.Symbol).
		Strs("flags", info.Flags).
		Msg("token inspected")
	return info, nil
}

// Decimals reads just the decimals value, for callers that do not need the
// full inspection.
func (i *Inspector) Decimals(ctx context.Context, chainID uint64, tokenAddress common.Address) (uint8, error) {
	var decimals uint8
	if err := i.callInto(ctx, chainID, tokenAddress, "decimals", &decimals); err != nil {
		return 0, fmt.Errorf("%w: decimals(): %v", ErrNotAToken, err)
	}
	return decimals, nil
}

// BalanceOf returns the holder's balance in the token's smallest unit.
func (i *Inspector) BalanceOf(ctx context.Context, chainID uint64, tokenAddress, holder common.Address) (*big.Int, error) {
	var balance *big.Int
	if err := i.callInto(ctx, chainID, tokenAddress, "balanceOf", &balance, holder); err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", tokenAddress.Hex(), err)
	}
	return balance, nil
}

// Allowance returns how much the spender may pull from the owner.
func (i *Inspector) Allowance(ctx context.Context, chainID uint64, tokenAddress, owner, spender common.Address) (*big.Int, error) {
	var allowance *big.Int
	if err := i.callInto(ctx, chainID, tokenAddress, "allowance", &allowance, owner, spender); err != nil {
		return nil, fmt.Errorf("allowance %s: %w", tokenAddress.Hex(), err)
	}
	return allowance, nil
}

// callInto packs a view call, executes it through the gateway, and unpacks
// the single return value into out.
func (i *Inspector) callInto(ctx context.Context, chainID uint64, contract common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := i.gateway.Call(ctx, chainID, ethereum.CallMsg{To: &contract, Data: data})
	if err != nil {
		return err
	}
	if len(result) == 0 {
		return fmt.Errorf("%s returned no data", method)
	}
	if err := erc20ABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	return nil
}
