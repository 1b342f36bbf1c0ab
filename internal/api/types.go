package api

import (
	"time"

	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// DashboardSnapshot is the complete state served to a newly connected
// dashboard client and returned by GET /api/snapshot.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`

	LastResult *CompetitionSummary `json:"last_result,omitempty"`

	Config ConfigSummary `json:"config"`
}

// nativeTokenDecimals is the decimal precision of the settlement
// contract's native fee token (WETH on every chain this service targets),
// used to render scores in human-readable units on the dashboard.
const nativeTokenDecimals = 18

// ParticipantSummary is the dashboard-facing view of one solver's solution
// as it moved through arbitration.
type ParticipantSummary struct {
	Driver       string `json:"driver"`
	SolutionID   uint64 `json:"solution_id"`
	State        string `json:"state"`
	Score        string `json:"score"`
	HumanScore   string `json:"human_score"`
	NumTrades    int    `json:"num_trades"`
}

// CompetitionSummary is the dashboard-facing view of one finished
// competition round.
type CompetitionSummary struct {
	AuctionID uint64               `json:"auction_id"`
	Block     uint64               `json:"block"`
	Timestamp time.Time            `json:"timestamp"`
	Winners   []ParticipantSummary `json:"winners"`
	AllRanked []ParticipantSummary `json:"all_ranked"`
}

// NewCompetitionSummary converts a finalized competition result into its
// dashboard-facing projection.
func NewCompetitionSummary(result types.CompetitionResult) CompetitionSummary {
	return CompetitionSummary{
		AuctionID: result.AuctionID,
		Block:     result.Block,
		Timestamp: result.Timestamp,
		Winners:   summarizeParticipants(result.Winners),
		AllRanked: summarizeParticipants(result.AllRanked),
	}
}

func summarizeParticipants(participants []types.Participant) []ParticipantSummary {
	out := make([]ParticipantSummary, 0, len(participants))
	for _, p := range participants {
		out = append(out, ParticipantSummary{
			Driver:     p.Solution.Driver,
			SolutionID: p.Solution.SolutionID,
			State:      p.State.String(),
			Score:      p.ComputedScore.Amount().String(),
			HumanScore: p.ComputedScore.Humanize(nativeTokenDecimals),
			NumTrades:  len(p.Solution.Trades),
		})
	}
	return out
}

// ConfigSummary exposes the operational knobs worth surfacing on the
// dashboard without leaking RPC endpoints or driver credentials.
type ConfigSummary struct {
	DryRun                bool   `json:"dry_run"`
	MinTickInterval       string `json:"min_tick_interval"`
	SolveDeadline         string `json:"solve_deadline"`
	RevealTimeout         string `json:"reveal_timeout"`
	MaxWinnersPerAuction  int    `json:"max_winners_per_auction"`
	MaxSolutionsPerSolver int    `json:"max_solutions_per_solver"`
	DriverCount           int    `json:"driver_count"`
}

// NewConfigSummary projects the full application configuration into the
// subset safe to publish on the dashboard.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		DryRun:                cfg.DryRun,
		MinTickInterval:       cfg.Tick.MinInterval.String(),
		SolveDeadline:         cfg.Tick.SolveDeadline.String(),
		RevealTimeout:         cfg.Tick.RevealTimeout.String(),
		MaxWinnersPerAuction:  cfg.Auction.MaxWinnersPerAuction,
		MaxSolutionsPerSolver: cfg.Auction.MaxSolutionsPerSolver,
		DriverCount:           len(cfg.Drivers),
	}
}
