package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// EarningsStore implements domain.EarningsStore using PostgreSQL.
type EarningsStore struct {
	pool *pgxpool.Pool
}

// NewEarningsStore creates a new EarningsStore backed by the given connection pool.
func NewEarningsStore(pool *pgxpool.Pool) *EarningsStore {
	return &EarningsStore{pool: pool}
}

// Credit appends a ledger row for party. Rows are never updated, so
// concurrent sales crediting the same party do not contend on a lock.
func (s *EarningsStore) Credit(ctx context.Context, party common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	const query = `INSERT INTO earnings_credits (party, amount) VALUES ($1, $2::numeric)`

	if _, err := conn(ctx, s.pool).Exec(ctx, query, party.Hex(), amount.String()); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", party.Hex(), err)
	}
	return nil
}

// Balance sums the party's credits; zero when there are none.
func (s *EarningsStore) Balance(ctx context.Context, party common.Address) (*big.Int, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::text FROM earnings_credits WHERE party = $1`

	var raw string
	if err := conn(ctx, s.pool).QueryRow(ctx, query, party.Hex()).Scan(&raw); err != nil {
		return nil, fmt.Errorf("postgres: balance of %s: %w", party.Hex(), err)
	}
	return parseAmount(raw)
}

// Drain deletes the party's credits and returns their sum. A concurrent
// drain blocks on the deleted rows and then skips them, so each credit is
// paid out once. Credits committed after the statement starts stay for the
// next drain.
func (s *EarningsStore) Drain(ctx context.Context, party common.Address) (*big.Int, error) {
	const query = `
		WITH drained AS (
			DELETE FROM earnings_credits WHERE party = $1
			RETURNING amount
		)
		SELECT COALESCE(SUM(amount), 0)::text FROM drained`

	var raw string
	if err := conn(ctx, s.pool).QueryRow(ctx, query, party.Hex()).Scan(&raw); err != nil {
		return nil, fmt.Errorf("postgres: drain %s: %w", party.Hex(), err)
	}
	return parseAmount(raw)
}

var _ domain.EarningsStore = (*EarningsStore)(nil)
