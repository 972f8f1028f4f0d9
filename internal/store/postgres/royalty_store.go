package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// RoyaltyStore implements domain.RoyaltyStore using PostgreSQL.
type RoyaltyStore struct {
	pool *pgxpool.Pool
}

// NewRoyaltyStore creates a new RoyaltyStore backed by the given connection pool.
func NewRoyaltyStore(pool *pgxpool.Pool) *RoyaltyStore {
	return &RoyaltyStore{pool: pool}
}

// Set upserts the assignment for (registry, asset_id).
func (s *RoyaltyStore) Set(ctx context.Context, r domain.RoyaltyAssignment) error {
	const query = `
		INSERT INTO royalties (registry, asset_id, recipient, percentage_bps, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5)
		ON CONFLICT (registry, asset_id) DO UPDATE SET
			recipient      = EXCLUDED.recipient,
			percentage_bps = EXCLUDED.percentage_bps,
			updated_at     = EXCLUDED.updated_at`

	_, err := conn(ctx, s.pool).Exec(ctx, query,
		r.Registry.Hex(), r.AssetID.String(), r.Recipient.Hex(), int16(r.PercentageBps), r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: set royalty %s: %w", domain.AssetKey(r.Registry, r.AssetID), err)
	}
	return nil
}

// Get returns the zero assignment when none exists.
func (s *RoyaltyStore) Get(ctx context.Context, registry common.Address, assetID *big.Int) (domain.RoyaltyAssignment, error) {
	const query = `
		SELECT recipient, percentage_bps, updated_at
		FROM royalties WHERE registry = $1 AND asset_id = $2::numeric`

	var (
		recipient string
		bps       int16
		r         domain.RoyaltyAssignment
	)
	err := conn(ctx, s.pool).QueryRow(ctx, query, registry.Hex(), assetID.String()).Scan(&recipient, &bps, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RoyaltyAssignment{}, nil
		}
		return domain.RoyaltyAssignment{}, fmt.Errorf("postgres: get royalty %s: %w", domain.AssetKey(registry, assetID), err)
	}
	r.Registry = registry
	r.AssetID = new(big.Int).Set(assetID)
	r.Recipient = parseAddress(recipient)
	r.PercentageBps = uint16(bps)
	return r, nil
}

var _ domain.RoyaltyStore = (*RoyaltyStore)(nil)
