package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// Payout is a pending or settled outbox row.
type Payout struct {
	ID        int64
	Recipient common.Address
	Amount    *big.Int
	Status    string
	CreatedAt time.Time
	SentAt    *time.Time
}

// PayoutStore implements domain.Payer as an outbox: each payment is a row
// written in the caller's transaction and later sent by an external
// settlement worker.
type PayoutStore struct {
	pool *pgxpool.Pool
}

// NewPayoutStore creates a new PayoutStore backed by the given connection pool.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Pay records amount as owed to to.
func (s *PayoutStore) Pay(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	const query = `INSERT INTO payouts (recipient, amount) VALUES ($1, $2::numeric)`
	if _, err := conn(ctx, s.pool).Exec(ctx, query, to.Hex(), amount.String()); err != nil {
		return fmt.Errorf("postgres: record payout to %s: %w", to.Hex(), err)
	}
	return nil
}

// ListPending returns unsent payouts, oldest first.
func (s *PayoutStore) ListPending(ctx context.Context, limit int) ([]Payout, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, recipient, amount::text, status, created_at, sent_at
		FROM payouts WHERE status = 'pending'
		ORDER BY id LIMIT $1`

	rows, err := conn(ctx, s.pool).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending payouts: %w", err)
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		var (
			p         Payout
			recipient string
			amount    string
		)
		if err := rows.Scan(&p.ID, &recipient, &amount, &p.Status, &p.CreatedAt, &p.SentAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		p.Recipient = parseAddress(recipient)
		if p.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending payouts rows: %w", err)
	}
	return out, nil
}

var _ domain.Payer = (*PayoutStore)(nil)
