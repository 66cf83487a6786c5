// Package config exposes strongly typed engine configuration loaded from YAML
// with environment overrides for secrets and RPC endpoints.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Chain describes one EVM network the engine may talk to. The table is loaded
// at startup and treated as read-only afterwards.
type Chain struct {
	ChainID         uint64 `yaml:"chain_id"`
	Name            string `yaml:"name"`
	RPCURL          string `yaml:"rpc_url"`
	NativeSymbol    string `yaml:"native_symbol"`
	NativeDecimals  uint8  `yaml:"native_decimals"`
	ExplorerBaseURL string `yaml:"explorer_base_url"`
	RouterAddress   string `yaml:"router_address"`
	WrappedNative   string `yaml:"wrapped_native"`
	// RPCEnvVar, when set, names an environment variable that overrides RPCURL.
	RPCEnvVar string `yaml:"rpc_env_var,omitempty"`
}

// Trading groups the knobs applied to every trade unless the request says
// otherwise.
type Trading struct {
	DefaultSlippageBps uint32  `yaml:"default_slippage_bps"`
	GasMultiplier      float64 `yaml:"gas_multiplier"`
	GasLimitMargin     uint64  `yaml:"gas_limit_margin_pct"`
	ReceiptTimeoutSecs int     `yaml:"receipt_timeout_secs"`
	SwapDeadlineSecs   int64   `yaml:"swap_deadline_secs"`
}

// Store selects the wallet/persistence backend.
type Store struct {
	Backend   string `yaml:"backend"` // "redis" or "memory"
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// Config collects every configuration leaf.
type Config struct {
	App     App     `yaml:"app"`
	Chains  []Chain `yaml:"chains"`
	Trading Trading `yaml:"trading"`
	Store   Store   `yaml:"store"`

	// MasterSecret is the vault encryption secret. It is only ever read from
	// the ENCRYPTION_KEY environment variable, never from the YAML file.
	MasterSecret string `yaml:"-"`

	// ExportTokenSecret signs export-confirmation tokens. Defaults to the
	// master secret when unset.
	ExportTokenSecret string `yaml:"-"`
}

// Load reads a YAML file, applies environment overrides, and validates the
// result. An empty path skips the file and uses the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration covering Ethereum mainnet, BSC
// mainnet, and the BSC testnet with public endpoints.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "tradecore",
			Env:         "dev",
			MetricsAddr: ":9091",
			LogLevel:    "info",
		},
		Chains: []Chain{
			{
				ChainID:         1,
				Name:            "Ethereum",
				RPCURL:          "https://eth.llamarpc.com",
				RPCEnvVar:       "ETH_RPC_URL",
				NativeSymbol:    "ETH",
				NativeDecimals:  18,
				ExplorerBaseURL: "https://etherscan.io",
				RouterAddress:   "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
				WrappedNative:   "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			},
			{
				ChainID:         56,
				Name:            "BSC",
				RPCURL:          "https://bsc-dataseed.binance.org",
				RPCEnvVar:       "BSC_RPC_URL",
				NativeSymbol:    "BNB",
				NativeDecimals:  18,
				ExplorerBaseURL: "https://bscscan.com",
				RouterAddress:   "0x10ED43C718714eb63d5aA57B78B54704E256024E",
				WrappedNative:   "0xBB4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			},
			{
				ChainID:         97,
				Name:            "BSC Testnet",
				RPCURL:          "https://data-seed-prebsc-1-s1.binance.org:8545",
				RPCEnvVar:       "BSC_TESTNET_RPC_URL",
				NativeSymbol:    "tBNB",
				NativeDecimals:  18,
				ExplorerBaseURL: "https://testnet.bscscan.com",
				RouterAddress:   "0xD99D1c33F9fC3444f8101754aBC46c52416550D1",
				WrappedNative:   "0xae13d989daC2f0dEbFf460aC112a837C89BAa7cd",
			},
		},
		Trading: Trading{
			DefaultSlippageBps: 50,
			GasMultiplier:      1.5,
			GasLimitMargin:     20,
			ReceiptTimeoutSecs: 120,
			SwapDeadlineSecs:   1200,
		},
		Store: Store{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
	}
}

// applyEnv pulls secrets and per-chain RPC overrides from the environment.
func (c *Config) applyEnv() {
	c.MasterSecret = os.Getenv("ENCRYPTION_KEY")
	c.ExportTokenSecret = os.Getenv("EXPORT_TOKEN_SECRET")
	if c.ExportTokenSecret == "" {
		c.ExportTokenSecret = c.MasterSecret
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Store.RedisAddr = addr
	}
	for i := range c.Chains {
		if c.Chains[i].RPCEnvVar == "" {
			continue
		}
		if url := os.Getenv(c.Chains[i].RPCEnvVar); url != "" {
			c.Chains[i].RPCURL = url
		}
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("ENCRYPTION_KEY must be set")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	seen := make(map[uint64]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID == 0 {
			return fmt.Errorf("chain %q: chain_id must be set", ch.Name)
		}
		if seen[ch.ChainID] {
			return fmt.Errorf("chain %q: duplicate chain_id %d", ch.Name, ch.ChainID)
		}
		seen[ch.ChainID] = true
		if ch.RPCURL == "" {
			return fmt.Errorf("chain %q: rpc_url must be set", ch.Name)
		}
		if ch.NativeDecimals == 0 {
			return fmt.Errorf("chain %q: native_decimals must be set", ch.Name)
		}
	}
	if c.Trading.GasMultiplier < 1.0 {
		return fmt.Errorf("trading.gas_multiplier must be >= 1.0")
	}
	if c.Trading.DefaultSlippageBps >= 10_000 {
		return fmt.Errorf("trading.default_slippage_bps must be below 10000")
	}
	return nil
}
