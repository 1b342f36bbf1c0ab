// Package config defines all configuration for the auction coordination
// core. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via AUTOPILOT_* environment variables.
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
	Chain     ChainConfig     `mapstructure:"chain"`
	Tick      TickConfig      `mapstructure:"tick"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Drivers   []DriverConfig  `mapstructure:"drivers"`
	BannedUsers []string      `mapstructure:"banned_users"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// ChainConfig holds the Ethereum RPC endpoint and settlement contract
// addresses needed to build auctions and observe settlements.
type ChainConfig struct {
	RPCURL             string `mapstructure:"rpc_url"`
	ChainID             int    `mapstructure:"chain_id"`
	SettlementContract string `mapstructure:"settlement_contract"`
	WrappedNativeToken string `mapstructure:"wrapped_native_token"`
	NativeTokenSentinel string `mapstructure:"native_token_sentinel"`
}

// TickConfig controls the pacing of the run loop's per-auction cycle.
//
//   - MinInterval: floor on how often a new auction may start.
//   - SolveDeadline: how long solvers are given to respond to /solve.
//   - RevealTimeout: how long the winning driver has to respond to /reveal.
//   - MaxSettlementTransactionWait: how long to wait for the indexer to
//     report each confirmed winner's settlement transaction before
//     recording that winner's settlement as timed out.
type TickConfig struct {
	MinInterval                  time.Duration `mapstructure:"min_interval"`
	SolveDeadline                time.Duration `mapstructure:"solve_deadline"`
	RevealTimeout                time.Duration `mapstructure:"reveal_timeout"`
	MaxSettlementTransactionWait time.Duration `mapstructure:"max_settlement_transaction_wait"`
}

// AuctionConfig bounds the size and fairness shape of each competition round.
type AuctionConfig struct {
	MaxWinnersPerAuction  int           `mapstructure:"max_winners_per_auction"`
	MaxSolutionsPerSolver int           `mapstructure:"max_solutions_per_solver"`
	MaxRunLoopDelay       time.Duration `mapstructure:"max_run_loop_delay"`
}

// OrdersConfig tunes how the solvable-orders cache filters and prices orders.
type OrdersConfig struct {
	LimitPriceFactor  float64       `mapstructure:"limit_price_factor"`
	MinValidityPeriod time.Duration `mapstructure:"min_validity_period"`
}

// DriverConfig describes one external solver-driver collaborator.
type DriverConfig struct {
	Name                       string        `mapstructure:"name"`
	URL                        string        `mapstructure:"url"`
	SubmissionAddress          string        `mapstructure:"submission_address"`
	FairnessThreshold          float64       `mapstructure:"fairness_threshold"`
	RequestedTimeoutOnProblems time.Duration `mapstructure:"requested_timeout_on_problems"`
}

// StoreConfig points at the relational database, object store bucket, and
// local durable cache directory used to persist auction and competition state.
type StoreConfig struct {
	PostgresDSN       string `mapstructure:"postgres_dsn"`
	ObjectStoreBucket string `mapstructure:"object_store_bucket"`
	LocalCacheDir     string `mapstructure:"local_cache_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the competition-stream web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AUTOPILOT_CHAIN_RPC_URL, AUTOPILOT_STORE_POSTGRES_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AUTOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive/deployment-specific fields from env.
	if url := os.Getenv("AUTOPILOT_CHAIN_RPC_URL"); url != "" {
		cfg.Chain.RPCURL = url
	}
	if dsn := os.Getenv("AUTOPILOT_STORE_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if os.Getenv("AUTOPILOT_DRY_RUN") == "true" || os.Getenv("AUTOPILOT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (or set AUTOPILOT_CHAIN_RPC_URL)")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if c.Chain.SettlementContract == "" {
		return fmt.Errorf("chain.settlement_contract is required")
	}
	if c.Chain.WrappedNativeToken == "" {
		return fmt.Errorf("chain.wrapped_native_token is required")
	}
	if c.Tick.SolveDeadline <= 0 {
		return fmt.Errorf("tick.solve_deadline must be > 0")
	}
	if c.Tick.RevealTimeout <= 0 {
		return fmt.Errorf("tick.reveal_timeout must be > 0")
	}
	if c.Auction.MaxWinnersPerAuction <= 0 {
		return fmt.Errorf("auction.max_winners_per_auction must be > 0")
	}
	if c.Auction.MaxSolutionsPerSolver <= 0 {
		return fmt.Errorf("auction.max_solutions_per_solver must be > 0")
	}
	if len(c.Drivers) == 0 {
		return fmt.Errorf("at least one entry in drivers is required")
	}
	for _, d := range c.Drivers {
		if d.Name == "" || d.URL == "" || d.SubmissionAddress == "" {
			return fmt.Errorf("drivers entries require name, url and submission_address")
		}
	}
	if c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required (or set AUTOPILOT_STORE_POSTGRES_DSN)")
	}
	return nil
}
