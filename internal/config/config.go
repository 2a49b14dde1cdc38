// Package config defines all configuration for the trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	API       APIConfig       `mapstructure:"api"`
	Odds      OddsConfig      `mapstructure:"odds"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	AutoOrder AutoOrderConfig `mapstructure:"auto_order"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL   string  `mapstructure:"clob_base_url"`
	GammaBaseURL  string  `mapstructure:"gamma_base_url"`
	ApiKey        string  `mapstructure:"api_key"`
	Secret        string  `mapstructure:"secret"`
	Passphrase    string  `mapstructure:"passphrase"`
	RateLimitRPS  float64 `mapstructure:"rate_limit_rps"`
}

// OddsConfig configures the external sports-odds provider used by the
// value_sports strategy. When ApiKey is empty the strategy is disabled.
type OddsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	ApiKey    string        `mapstructure:"api_key"`
	SportKeys []string      `mapstructure:"sport_keys"`
	Regions   string        `mapstructure:"regions"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// StrategyConfig tunes every registered strategy. Each sub-struct maps to
// one entry in the strategy registry.
type StrategyConfig struct {
	Enabled []string `mapstructure:"enabled"` // strategy names to run each cycle

	MinEdgePct float64 `mapstructure:"min_edge_pct"` // dispatcher-level floor
	MaxResults int     `mapstructure:"max_results"`  // dispatcher-level cap

	Momentum      MomentumConfig      `mapstructure:"momentum"`
	Arbitrage     ArbitrageConfig     `mapstructure:"arbitrage"`
	ValueSports   ValueSportsConfig   `mapstructure:"value_sports"`
	MeanReversion MeanReversionConfig `mapstructure:"mean_reversion"`
	Favorites     FavoritesConfig     `mapstructure:"favorites"`
}

type MomentumConfig struct {
	LookbackHours float64 `mapstructure:"lookback_hours"`
	MinSnapshots  int     `mapstructure:"min_snapshots"`
	MinMovePct    float64 `mapstructure:"min_move_pct"`
	MinConsistency float64 `mapstructure:"min_consistency"`
}

type ArbitrageConfig struct {
	PreScreenMax float64 `mapstructure:"pre_screen_max"` // skip if price_yes+price_no >= this
	FeeEstimate  float64 `mapstructure:"fee_estimate"`
	MinProfitPct float64 `mapstructure:"min_profit_pct"`
}

type ValueSportsConfig struct {
	MinEdgePct float64 `mapstructure:"min_edge_pct"`
}

type MeanReversionConfig struct {
	LookbackHours        float64 `mapstructure:"lookback_hours"`
	MinSnapshots         int     `mapstructure:"min_snapshots"`
	MinSpikePct          float64 `mapstructure:"min_spike_pct"`
	ReversionWindowHours float64 `mapstructure:"reversion_window_hours"`
}

type FavoritesConfig struct {
	MinVolume float64 `mapstructure:"min_volume"`
}

// RiskConfig sets bankroll sizing, circuit breaker, and idempotency limits.
type RiskConfig struct {
	Bankroll          float64       `mapstructure:"bankroll"`
	ReservePct        float64       `mapstructure:"reserve_pct"`
	MaxBetSize        float64       `mapstructure:"max_bet_size"`
	MaxTradeSize      float64       `mapstructure:"max_trade_size"`
	MaxTotalExposure  float64       `mapstructure:"max_total_exposure"`
	MaxOpenPositions  int           `mapstructure:"max_open_positions"`
	MaxSpreadBps      float64       `mapstructure:"max_spread_bps"`
	MaxDailyLossUSD   float64       `mapstructure:"max_daily_loss_usd"`
	MaxDrawdownPct    float64       `mapstructure:"max_drawdown_pct"`
	IntentTTLSeconds  int           `mapstructure:"intent_ttl_seconds"`
	KillSwitch        bool          `mapstructure:"kill_switch"`
	CancelAllOnStart  bool          `mapstructure:"cancel_all_on_startup"`
}

func (r RiskConfig) IntentTTL() time.Duration {
	return time.Duration(r.IntentTTLSeconds) * time.Second
}

// ScannerConfig controls how the bot discovers and filters tradeable markets.
type ScannerConfig struct {
	Categories        []string      `mapstructure:"categories"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MinLiquidity      float64       `mapstructure:"min_liquidity"`
	MinVolume         float64       `mapstructure:"min_volume"`
	MaxDaysToResolve  int           `mapstructure:"max_days_to_resolve"`
	MinHoursToResolve float64       `mapstructure:"min_hours_to_resolve"`
	ExcludeSlugs      []string      `mapstructure:"exclude_slugs"`
}

// TrackerConfig tunes the order-tracker poll loop.
type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

// AutoOrderConfig tunes the auto-order monitor loop and default exit params.
type AutoOrderConfig struct {
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	DefaultTakeProfit  float64       `mapstructure:"default_take_profit_pct"`
	DefaultStopLoss    float64       `mapstructure:"default_stop_loss_pct"`
	DefaultTrailingPct float64       `mapstructure:"default_trailing_pct"`
	MaxHoldHours       float64       `mapstructure:"max_hold_hours"`
	MaxPerCycle        int           `mapstructure:"max_per_cycle"`
	ScanInterval       time.Duration `mapstructure:"scan_interval"`
}

// StoreConfig sets where durable state is persisted.
type StoreConfig struct {
	Path              string        `mapstructure:"path"` // sqlite file path
	SnapshotRetention time.Duration `mapstructure:"snapshot_retention"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional read-only web dashboard.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE, POLY_ODDS_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if key := os.Getenv("POLY_ODDS_API_KEY"); key != "" {
		cfg.Odds.ApiKey = key
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if os.Getenv("POLY_KILL_SWITCH") == "true" || os.Getenv("POLY_KILL_SWITCH") == "1" {
		cfg.Risk.KillSwitch = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Risk.Bankroll <= 0 {
		return fmt.Errorf("risk.bankroll must be > 0")
	}
	if c.Risk.MaxBetSize <= 0 {
		return fmt.Errorf("risk.max_bet_size must be > 0")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if c.Risk.MaxSpreadBps <= 0 {
		return fmt.Errorf("risk.max_spread_bps must be > 0")
	}
	return nil
}

// HasOddsAPI reports whether the value_sports strategy has a usable key.
func (c *Config) HasOddsAPI() bool {
	return c.Odds.ApiKey != ""
}
