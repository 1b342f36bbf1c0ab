package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "https://rpc.example.org",
			ChainID:             1,
			SettlementContract:  "0x9008D19f58AAbD9eD0D60971565AA8510560ab0",
			WrappedNativeToken:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			NativeTokenSentinel: "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		},
		Tick: TickConfig{
			SolveDeadline: 15 * time.Second,
			RevealTimeout: 5 * time.Second,
		},
		Auction: AuctionConfig{
			MaxWinnersPerAuction:  5,
			MaxSolutionsPerSolver: 2,
		},
		Drivers: []DriverConfig{
			{Name: "baseline", URL: "http://localhost:8080", SubmissionAddress: "0x0000000000000000000000000000000000aaaa"},
		},
		Store: StoreConfig{PostgresDSN: "postgres://localhost/autopilot"},
	}
}

func TestValidateRequiresDrivers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Drivers = nil
	assert.ErrorContains(t, cfg.Validate(), "drivers")
}

func TestValidateRequiresChainRPC(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Chain.RPCURL = ""
	assert.ErrorContains(t, cfg.Validate(), "rpc_url")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}
