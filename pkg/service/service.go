// Package service is the intent-level API of the engine: one method per user
// action, with string inputs validated and converted at this boundary so the
// packages underneath only ever see checked types.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/hexlayer-labs/tradecore/pkg/chain"
	"github.com/hexlayer-labs/tradecore/pkg/token"
	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

// ErrBadAddress is returned when an input is not a valid hex address.
var ErrBadAddress = errors.New("service: invalid address")

// Service fronts the wallet, token, and trade subsystems.
type Service struct {
	gateway   chain.Gateway
	wallets   *wallet.Manager
	inspector *token.Inspector
	executor  *trade.Executor
	exports   *exportTokens
	log       zerolog.Logger
}

// Options carries the service-level knobs.
type Options struct {
	// ExportTokenSecret signs export confirmation tokens.
	ExportTokenSecret []byte
	// ExportTokenTTL bounds how long a minted confirmation stays usable.
	ExportTokenTTL time.Duration
}

func New(gateway chain.Gateway, wallets *wallet.Manager, inspector *token.Inspector, executor *trade.Executor, opts Options, log zerolog.Logger) *Service {
	return &Service{
		gateway:   gateway,
		wallets:   wallets,
		inspector: inspector,
		executor:  executor,
		exports:   newExportTokens(opts.ExportTokenSecret, opts.ExportTokenTTL),
		log:       log.With().Str("component", "service").Logger(),
	}
}

// WalletView is the outward shape of a wallet record. It never carries key
// material, encrypted or otherwise.
type WalletView struct {
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

func walletView(record *wallet.Record) *WalletView {
	return &WalletView{Address: record.Address, CreatedAt: record.CreatedAt}
}

// CreateWallet generates a wallet for the user. One active wallet per user.
func (s *Service) CreateWallet(ctx context.Context, userID string) (*WalletView, error) {
	record, err := s.wallets.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	return walletView(record), nil
}

// ImportWallet imports a hex private key for the user.
func (s *Service) ImportWallet(ctx context.Context, userID, privateKeyHex string) (*WalletView, error) {
	record, err := s.wallets.Import(ctx, userID, privateKeyHex)
	if err != nil {
		return nil, err
	}
	return walletView(record), nil
}

// Wallet returns the user's active wallet.
func (s *Service) Wallet(ctx context.Context, userID string) (*WalletView, error) {
	record, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return walletView(record), nil
}

// DeleteWallet removes the user's wallet. Idempotent.
func (s *Service) DeleteWallet(ctx context.Context, userID string) error {
	return s.wallets.Delete(ctx, userID)
}

// RequestExportToken starts the two-step key export: it returns a short-lived
// token the user must present back to ExportKey. Fails when the user has no
// wallet, so no token is ever minted for an empty account.
func (s *Service) RequestExportToken(ctx context.Context, userID string) (string, error) {
	if _, err := s.wallets.Get(ctx, userID); err != nil {
		return "", err
	}
	return s.exports.mint(userID)
}

// ExportKey completes the export: the confirmation token must be valid,
// unexpired, and minted for this exact user.
func (s *Service) ExportKey(ctx context.Context, userID, confirmationToken string) (string, error) {
	if err := s.exports.verify(userID, confirmationToken); err != nil {
		return "", err
	}
	return s.wallets.ExportKey(ctx, userID, true)
}

// BalanceView is a balance with both the raw integer amount and a
// human-readable rendering.
type BalanceView struct {
	ChainID uint64 `json:"chain_id"`
	Symbol  string `json:"symbol"`
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

// NativeBalance reads the user's native coin balance on one chain.
func (s *Service) NativeBalance(ctx context.Context, userID string, chainID uint64) (*BalanceView, error) {
	cfg, err := s.gateway.Chain(chainID)
	if err != nil {
		return nil, err
	}
	record, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance, err := s.gateway.NativeBalance(ctx, chainID, common.HexToAddress(record.Address))
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		ChainID: chainID,
		Symbol:  cfg.NativeSymbol,
		Raw:     balance.String(),
		Display: token.FormatUnits(balance, cfg.NativeDecimals),
	}, nil
}

// TokenBalance reads the user's balance of one token, resolving the token's
// metadata so the amount can be rendered in whole units.
func (s *Service) TokenBalance(ctx context.Context, userID string, chainID uint64, tokenAddress string) (*BalanceView, error) {
	addr, err := parseAddress(tokenAddress)
	if err != nil {
		return nil, err
	}
	record, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	info, err := s.inspector.Inspect(ctx, chainID, addr)
	if err != nil {
		return nil, err
	}
	balance, err := s.inspector.BalanceOf(ctx, chainID, addr, common.HexToAddress(record.Address))
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		ChainID: chainID,
		Symbol:  info.Symbol,
		Raw:     balance.String(),
		Display: token.FormatUnits(balance, info.Decimals),
	}, nil
}

// ScanToken inspects a token contract: metadata plus heuristic risk flags.
func (s *Service) ScanToken(ctx context.Context, chainID uint64, tokenAddress string) (*token.Info, error) {
	addr, err := parseAddress(tokenAddress)
	if err != nil {
		return nil, err
	}
	return s.inspector.Inspect(ctx, chainID, addr)
}

// TradeParams is the string-level trade input, converted and validated here.
type TradeParams struct {
	UserID       string
	ChainID      uint64
	Direction    trade.Direction
	TokenAddress string
	// Amount is in whole units of the spent asset: native coin for buys,
	// the token for sells.
	Amount      string
	SlippageBps uint32
}

// TradeResult is a trade receipt plus the chain's explorer link.
type TradeResult struct {
	*trade.Receipt
	ExplorerURL string `json:"explorer_url,omitempty"`
}

func (s *Service) buildRequest(ctx context.Context, params *TradeParams) (*trade.Request, error) {
	cfg, err := s.gateway.Chain(params.ChainID)
	if err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.TokenAddress)
	if err != nil {
		return nil, err
	}

	decimals := cfg.NativeDecimals
	if params.Direction == trade.Sell {
		if decimals, err = s.inspector.Decimals(ctx, params.ChainID, addr); err != nil {
			return nil, err
		}
	}
	amount, err := token.ParseUnits(params.Amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trade.ErrInvalidRequest, err)
	}

	return &trade.Request{
		UserID:       params.UserID,
		ChainID:      params.ChainID,
		Direction:    params.Direction,
		TokenAddress: addr,
		AmountIn:     amount,
		SlippageBps:  params.SlippageBps,
	}, nil
}

// QuoteTrade prices a trade without executing it.
func (s *Service) QuoteTrade(ctx context.Context, params *TradeParams) (quoted, minOut string, err error) {
	req, err := s.buildRequest(ctx, params)
	if err != nil {
		return "", "", err
	}
	q, m, err := s.executor.Quote(ctx, req)
	if err != nil {
		return "", "", err
	}
	return q.String(), m.String(), nil
}

// ExecuteTrade runs a trade end to end and decorates the receipt with the
// explorer link.
func (s *Service) ExecuteTrade(ctx context.Context, params *TradeParams) (*TradeResult, error) {
	req, err := s.buildRequest(ctx, params)
	if err != nil {
		return nil, err
	}
	receipt, err := s.executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.result(params.ChainID, receipt), nil
}

// Transfer sends native coin (tokenAddress empty) or tokens to another
// address.
func (s *Service) Transfer(ctx context.Context, userID string, chainID uint64, tokenAddress, to, amount string) (*TradeResult, error) {
	toAddr, err := parseAddress(to)
	if err != nil {
		return nil, err
	}
	cfg, err := s.gateway.Chain(chainID)
	if err != nil {
		return nil, err
	}

	req := &trade.TransferRequest{UserID: userID, ChainID: chainID, To: toAddr}
	decimals := cfg.NativeDecimals
	if tokenAddress != "" {
		addr, err := parseAddress(tokenAddress)
		if err != nil {
			return nil, err
		}
		if decimals, err = s.inspector.Decimals(ctx, chainID, addr); err != nil {
			return nil, err
		}
		req.TokenAddress = &addr
	}
	if req.Amount, err = token.ParseUnits(amount, decimals); err != nil {
		return nil, fmt.Errorf("%w: %v", trade.ErrInvalidRequest, err)
	}

	receipt, err := s.executor.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.result(chainID, receipt), nil
}

// TradeStatus re-queries a submitted transaction by hash.
func (s *Service) TradeStatus(ctx context.Context, chainID uint64, txHash string) (*chain.Receipt, error) {
	return s.executor.Status(ctx, chainID, txHash)
}

// History lists the user's most recent trades and transfers.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*trade.HistoryEntry, error) {
	return s.executor.History(ctx, userID, limit)
}

// Chains lists the configured networks.
func (s *Service) Chains() []chain.Config {
	return s.gateway.Chains()
}

// ChainInfo reports connectivity for one chain.
func (s *Service) ChainInfo(ctx context.Context, chainID uint64) (*chain.Info, error) {
	return s.gateway.Info(ctx, chainID)
}

func (s *Service) result(chainID uint64, receipt *trade.Receipt) *TradeResult {
	result := &TradeResult{Receipt: receipt}
	if cfg, err := s.gateway.Chain(chainID); err == nil && cfg.ExplorerBaseURL != "" && receipt.TxHash != "" {
		result.ExplorerURL = cfg.ExplorerBaseURL + "/tx/" + receipt.TxHash
	}
	return result
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, raw)
	}
	return common.HexToAddress(raw), nil
}
