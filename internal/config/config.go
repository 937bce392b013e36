package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/types"
	"gopkg.in/yaml.v3"
)

type TokenCfg struct {
	Symbol   string `yaml:"symbol"`
	Addr     string `yaml:"addr"`
	Decimals uint8  `yaml:"decimals"`
	Oracle   string `yaml:"oracle"`    // price aggregator for this token
	WsSymbol string `yaml:"ws_symbol"` // ticker symbol on the ws feed

	// dry-run only: static oracle price when no live source is wired
	PxUSD float64 `yaml:"px_usd"`
}

type Config struct {
	DryRun bool `yaml:"dry_run"`

	Chain struct {
		Network            string  `yaml:"network"`
		RPCHTTP            string  `yaml:"rpc_http"`
		RPCWS              string  `yaml:"rpc_ws"`
		WalletPK           string  `yaml:"wallet_pk"`
		MaxPriorityFeeGwei float64 `yaml:"max_priority_fee_gwei"`
		GasLimitSwap       uint64  `yaml:"gas_limit_swap"`
	} `yaml:"chain"`

	DEX struct {
		Router   string   `yaml:"router"`
		QuoterV2 string   `yaml:"quoter_v2"`
		FeeTiers []uint32 `yaml:"fee_tiers"`
	} `yaml:"dex"`

	Oracles struct {
		Price     []string `yaml:"price"` // aggregator addresses, base-list order matches tokens
		Gas       string   `yaml:"gas"`
		Multicall string   `yaml:"multicall"`
		MaxAgeSec int      `yaml:"max_age_sec"`
		WsURL     string   `yaml:"ws_url"`
	} `yaml:"oracles"`

	Lending struct {
		Pool        string  `yaml:"pool"`
		Receiver    string  `yaml:"receiver"` // on-chain callback contract
		FlashFeeBps float64 `yaml:"flash_fee_bps"`
	} `yaml:"lending"`

	Tokens      []TokenCfg `yaml:"tokens"`
	BaseToken   TokenCfg   `yaml:"base_token"`   // funding asset for flash loans
	StableToken TokenCfg   `yaml:"stable_token"` // settlement asset for superprofit

	Risk struct {
		GasPriceLimitGwei       float64 `yaml:"gas_price_limit_gwei"`
		ProfitThresholdUSD      float64 `yaml:"profit_threshold_usd"`
		SuperProfitThresholdUSD float64 `yaml:"super_profit_threshold_usd"`
		LiquidityThresholdUSD   float64 `yaml:"liquidity_threshold_usd"`
		MaxSlippageBps          int     `yaml:"max_slippage_bps"`
	} `yaml:"risk"`

	Trade struct {
		AmountUSD float64 `yaml:"amount_usd"`
		Strategy  string  `yaml:"strategy"` // direct | flashloan
	} `yaml:"trade"`

	Redis struct {
		Addr      string `yaml:"addr"`
		DB        int    `yaml:"db"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Stream    string `yaml:"stream"`
		LedgerKey string `yaml:"ledger_key"`
	} `yaml:"redis"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	API struct {
		ListenAddr    string `yaml:"listen_addr"`
		OperatorToken string `yaml:"operator_token"`
	} `yaml:"api"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Timings struct {
		AttemptTimeoutMs int `yaml:"attempt_timeout_ms"`
		TriggerEveryMs   int `yaml:"trigger_every_ms"`
	} `yaml:"timings"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	// secrets come from the environment, never from the file
	if v := os.Getenv("FLASHARB_WALLET_PK"); v != "" {
		c.Chain.WalletPK = v
	}
	if v := os.Getenv("FLASHARB_OPERATOR_TOKEN"); v != "" {
		c.API.OperatorToken = v
	}
	if v := os.Getenv("FLASHARB_PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}

	if len(c.DEX.FeeTiers) == 0 {
		c.DEX.FeeTiers = []uint32{100, 500, 3000, 10000}
	}
	if c.Oracles.MaxAgeSec == 0 {
		c.Oracles.MaxAgeSec = 60
	}
	if c.Risk.MaxSlippageBps == 0 {
		c.Risk.MaxSlippageBps = 50
	}
	if c.Lending.FlashFeeBps == 0 {
		c.Lending.FlashFeeBps = 9 // Aave V3 default premium
	}
	if c.Timings.AttemptTimeoutMs == 0 {
		c.Timings.AttemptTimeoutMs = 15000
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "arb:events"
	}
	if c.Redis.LedgerKey == "" {
		c.Redis.LedgerKey = "arb:ledger:total"
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces the one-time setup contract: every collaborator address
// must be present and non-zero, and at least one price oracle is required.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"dex.router":   c.DEX.Router,
		"oracles.gas":  c.Oracles.Gas,
		"lending.pool": c.Lending.Pool,
		"base_token":   c.BaseToken.Addr,
		"stable_token": c.StableToken.Addr,
	} {
		if !validAddr(addr) {
			return fmt.Errorf("%w: %s address %q", types.ErrConfiguration, name, addr)
		}
	}
	if len(c.Oracles.Price) == 0 {
		return fmt.Errorf("%w: at least one price oracle required", types.ErrConfiguration)
	}
	for i, a := range c.Oracles.Price {
		if !validAddr(a) {
			return fmt.Errorf("%w: price oracle %d address %q", types.ErrConfiguration, i, a)
		}
	}
	for _, t := range c.Tokens {
		if !validAddr(t.Addr) {
			return fmt.Errorf("%w: token %q address %q", types.ErrConfiguration, t.Symbol, t.Addr)
		}
	}
	if c.Risk.ProfitThresholdUSD < 0 || c.Risk.SuperProfitThresholdUSD < 0 || c.Risk.LiquidityThresholdUSD < 0 {
		return fmt.Errorf("%w: thresholds must be non-negative", types.ErrConfiguration)
	}
	if c.Risk.SuperProfitThresholdUSD < c.Risk.ProfitThresholdUSD {
		return fmt.Errorf("%w: super_profit_threshold_usd below profit_threshold_usd", types.ErrConfiguration)
	}
	return nil
}

func validAddr(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	return common.HexToAddress(s) != (common.Address{})
}

// DecimalsOf returns the configured decimals for a token, defaulting to 18.
func (c *Config) DecimalsOf(addr common.Address) uint8 {
	for _, t := range c.AllTokens() {
		if common.HexToAddress(t.Addr) == addr && t.Decimals > 0 {
			return t.Decimals
		}
	}
	return 18
}

// AllTokens is the monitored list plus the two reference tokens.
func (c *Config) AllTokens() []TokenCfg {
	out := make([]TokenCfg, 0, len(c.Tokens)+2)
	out = append(out, c.Tokens...)
	out = append(out, c.BaseToken, c.StableToken)
	return out
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Timings.AttemptTimeoutMs) * time.Millisecond
}

func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.Oracles.MaxAgeSec) * time.Second
}
