package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hexlayer-labs/tradecore/internal/config"
	"github.com/hexlayer-labs/tradecore/internal/metrics"
	"github.com/hexlayer-labs/tradecore/internal/store/memstore"
	"github.com/hexlayer-labs/tradecore/internal/store/redisstore"
	"github.com/hexlayer-labs/tradecore/internal/util"
	"github.com/hexlayer-labs/tradecore/pkg/chain"
	"github.com/hexlayer-labs/tradecore/pkg/service"
	"github.com/hexlayer-labs/tradecore/pkg/token"
	"github.com/hexlayer-labs/tradecore/pkg/trade"
	"github.com/hexlayer-labs/tradecore/pkg/vault"
	"github.com/hexlayer-labs/tradecore/pkg/version"
	"github.com/hexlayer-labs/tradecore/pkg/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tradecored:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	// Optional .env for local runs; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := util.NewLogger(cfg.App.LogLevel)
	log.Info().Str("version", version.String()).Str("env", cfg.App.Env).Msg("starting trade engine")

	v, err := vault.New(cfg.MasterSecret)
	if err != nil {
		return err
	}

	gateway, err := chain.NewEVMGateway(chainConfigs(cfg), log)
	if err != nil {
		return err
	}
	defer gateway.Close()

	walletStore, historyStore, cleanup, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	wallets := wallet.NewManager(walletStore, v, log)
	inspector := token.NewInspector(gateway, log)
	executor := trade.NewExecutor(gateway, wallets, inspector, historyStore, trade.Config{
		DefaultSlippageBps: cfg.Trading.DefaultSlippageBps,
		GasMultiplier:      cfg.Trading.GasMultiplier,
		GasLimitMarginPct:  cfg.Trading.GasLimitMargin,
		ReceiptTimeout:     time.Duration(cfg.Trading.ReceiptTimeoutSecs) * time.Second,
		SwapDeadline:       time.Duration(cfg.Trading.SwapDeadlineSecs) * time.Second,
	}, log)

	svc := service.New(gateway, wallets, inspector, executor, service.Options{
		ExportTokenSecret: []byte(cfg.ExportTokenSecret),
		ExportTokenTTL:    2 * time.Minute,
	}, log)
	_ = svc // handed to the front end embedding this process

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics listening")
	}

	for _, c := range gateway.Chains() {
		info, err := gateway.Info(context.Background(), c.ChainID)
		if err != nil {
			log.Warn().Err(err).Str("chain", c.Name).Msg("chain unreachable at startup")
			continue
		}
		log.Info().Str("chain", c.Name).Uint64("block", info.LatestBlock).Msg("chain connected")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

func chainConfigs(cfg *config.Config) []chain.Config {
	out := make([]chain.Config, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		out = append(out, chain.Config{
			ChainID:         c.ChainID,
			Name:            c.Name,
			RPCURL:          c.RPCURL,
			NativeSymbol:    c.NativeSymbol,
			NativeDecimals:  c.NativeDecimals,
			ExplorerBaseURL: c.ExplorerBaseURL,
			RouterAddress:   common.HexToAddress(c.RouterAddress),
			WrappedNative:   common.HexToAddress(c.WrappedNative),
		})
	}
	return out
}

// buildStores picks the persistence backend: Redis when configured, process
// memory otherwise.
func buildStores(cfg *config.Config) (wallet.Store, trade.HistoryStore, func(), error) {
	if cfg.Store.Backend != "redis" {
		return memstore.NewWallets(), memstore.NewHistory(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Store.RedisAddr, err)
	}
	cleanup := func() { _ = client.Close() }
	return redisstore.NewWallets(client), redisstore.NewHistory(client), cleanup, nil
}
