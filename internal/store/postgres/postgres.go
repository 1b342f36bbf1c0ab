// Package postgres implements the relational persistence layer (C2):
// the open-orders table the solvable-orders cache reads from, and the
// append-only auction/competition-result history the run loop writes.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoalfin/auctioncore/pkg/types"
)

// Store is the Postgres-backed relational store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pooled connection and verifies it's reachable.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "postgres-store")}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// FetchOpenOrders returns every order that is not cancelled, not expired,
// not fully executed, and — for PreSign orders — has an observed
// on-chain presignature, as of block.
func (s *Store) FetchOpenOrders(ctx context.Context, block uint64) ([]types.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uid, owner, sell_token, buy_token, sell_amount, buy_amount, fee_amount,
		       side, class, partially_fillable, valid_to, signing_scheme
		FROM orders
		WHERE cancelled_at IS NULL
		  AND valid_to >= $2
		  AND executed_amount < sell_amount
		  AND (signing_scheme != 'pre_sign' OR presignature_block IS NOT NULL AND presignature_block <= $1)
		ORDER BY creation_time ASC, uid ASC
	`, block, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	defer rows.Close()

	var orders []types.Order
	for rows.Next() {
		var (
			uidHex, ownerHex, sellHex, buyHex string
			sellAmount, buyAmount, feeAmount  string
			side, class, signingScheme        string
			partiallyFillable                 bool
			validTo                           uint32
		)
		if err := rows.Scan(&uidHex, &ownerHex, &sellHex, &buyHex, &sellAmount, &buyAmount, &feeAmount,
			&side, &class, &partiallyFillable, &validTo, &signingScheme); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		order, err := decodeOrderRow(uidHex, ownerHex, sellHex, buyHex, sellAmount, buyAmount, feeAmount,
			side, class, partiallyFillable, validTo, signingScheme)
		if err != nil {
			s.logger.Warn("dropping malformed order row", "uid", uidHex, "error", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// InsertAuction persists an auction's identity row (id, block, order count,
// deadline) before it's dispatched to any driver, so a crash mid-tick never
// loses the record that it was sent. The full auction body is not stored
// here.
func (s *Store) InsertAuction(ctx context.Context, auction types.Auction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auctions (id, block, order_count, deadline)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, auction.ID, auction.Block, len(auction.Orders), auction.Deadline)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

// InsertCompetitionResult durably records the finalized outcome of one
// auction's competition round, within a single transaction so winners and
// the result row never diverge.
func (s *Store) InsertCompetitionResult(ctx context.Context, result types.CompetitionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO competition_results (auction_id, block, winner_count, ranked_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auction_id) DO UPDATE
		SET winner_count = EXCLUDED.winner_count, ranked_count = EXCLUDED.ranked_count
	`, result.AuctionID, result.Block, len(result.Winners), len(result.AllRanked), result.Timestamp)
	if err != nil {
		return fmt.Errorf("insert competition_results: %w", err)
	}

	for _, p := range result.AllRanked {
		hash := result.Hashes[types.SolutionKey{Driver: p.Solution.Driver, SolutionID: p.Solution.SolutionID}]
		_, err = tx.Exec(ctx, `
			INSERT INTO competition_participants
				(auction_id, driver, solution_id, submission_address, state, computed_score, solution_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, result.AuctionID, p.Solution.Driver, p.Solution.SolutionID, p.Solution.SubmissionAddress.Hex(),
			p.State.String(), p.ComputedScore.Amount().String(), fmt.Sprintf("%x", hash))
		if err != nil {
			return fmt.Errorf("insert competition_participants: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CancelOrder marks an order cancelled as of now, e.g. in response to an
// on-chain cancellation event observed by the indexer.
func (s *Store) CancelOrder(ctx context.Context, uid types.OrderUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE orders SET cancelled_at = $2 WHERE uid = $1`, uid.String(), now)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// LatestSettlementObservations returns the most recent settlement outcome
// recorded for each of the given auction IDs.
func (s *Store) LatestSettlementObservations(ctx context.Context, auctionIDs []uint64) (map[uint64]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT auction_id, outcome FROM settlement_observations
		WHERE auction_id = ANY($1)
	`, auctionIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch settlement observations: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]string, len(auctionIDs))
	for rows.Next() {
		var id uint64
		var outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, fmt.Errorf("scan settlement observation: %w", err)
		}
		out[id] = outcome
	}
	return out, rows.Err()
}

func decodeOrderRow(uidHex, ownerHex, sellHex, buyHex, sellAmount, buyAmount, feeAmount,
	side, class string, partiallyFillable bool, validTo uint32, signingScheme string) (types.Order, error) {
	uid, err := parseOrderUID(uidHex)
	if err != nil {
		return types.Order{}, fmt.Errorf("uid: %w", err)
	}
	sell, err := parseAmount(sellAmount)
	if err != nil {
		return types.Order{}, fmt.Errorf("sell_amount: %w", err)
	}
	buy, err := parseAmount(buyAmount)
	if err != nil {
		return types.Order{}, fmt.Errorf("buy_amount: %w", err)
	}
	fee, err := parseAmount(feeAmount)
	if err != nil {
		return types.Order{}, fmt.Errorf("fee_amount: %w", err)
	}

	return types.Order{
		UID:               uid,
		Owner:             common.HexToAddress(ownerHex),
		SellToken:         common.HexToAddress(sellHex),
		BuyToken:          common.HexToAddress(buyHex),
		SellAmount:        sell,
		BuyAmount:         buy,
		FeeAmount:         fee,
		Side:              parseSide(side),
		Class:             parseClass(class),
		PartiallyFillable: partiallyFillable,
		ValidTo:           validTo,
		SigningScheme:     parseSigningScheme(signingScheme),
	}, nil
}

func parseAmount(s string) (types.TokenAmount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return types.TokenAmount{}, err
	}
	return types.NewTokenAmount(v), nil
}

func parseOrderUID(hex string) (types.OrderUID, error) {
	var uid types.OrderUID
	b := common.FromHex(hex)
	if len(b) != len(uid) {
		return uid, fmt.Errorf("expected %d bytes, got %d", len(uid), len(b))
	}
	copy(uid[:], b)
	return uid, nil
}

func parseSide(s string) types.Side {
	if s == "buy" {
		return types.Buy
	}
	return types.Sell
}

func parseClass(s string) types.OrderClass {
	switch s {
	case "limit":
		return types.ClassLimit
	case "liquidity":
		return types.ClassLiquidity
	default:
		return types.ClassMarket
	}
}

func parseSigningScheme(s string) types.SigningScheme {
	switch s {
	case "eth_sign":
		return types.EthSign
	case "eip1271":
		return types.EIP1271
	case "pre_sign":
		return types.PreSign
	default:
		return types.EIP712
	}
}
