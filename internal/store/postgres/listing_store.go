package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingColumns = `id, registry, asset_id::text, seller, price::text, active, created_at, closed_at`

// Create inserts the listing and returns it with its BIGSERIAL id. Ids of
// rolled back inserts are skipped, never reused.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	query := `
		INSERT INTO listings (registry, asset_id, seller, price, active, created_at)
		VALUES ($1, $2::numeric, $3, $4::numeric, $5, $6)
		RETURNING ` + listingColumns

	row := conn(ctx, s.pool).QueryRow(ctx, query,
		l.Registry.Hex(), l.AssetID.String(), l.Seller.Hex(), l.Price.String(), l.Active, l.CreatedAt,
	)
	out, err := scanListing(row)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: create listing: %w", err)
	}
	return out, nil
}

// Get returns a single listing by id.
func (s *ListingStore) Get(ctx context.Context, id uint64) (domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	l, err := scanListing(conn(ctx, s.pool).QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// Deactivate closes the listing only if it is still active. Concurrent
// callers serialise on the row lock and the loser sees zero rows affected.
func (s *ListingStore) Deactivate(ctx context.Context, id uint64, at time.Time) (bool, error) {
	const query = `UPDATE listings SET active = FALSE, closed_at = $2 WHERE id = $1 AND active`

	tag, err := conn(ctx, s.pool).Exec(ctx, query, int64(id), at)
	if err != nil {
		return false, fmt.Errorf("postgres: deactivate listing %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CurrentID reads the last value handed out by the listings id sequence.
func (s *ListingStore) CurrentID(ctx context.Context) (uint64, error) {
	const query = `SELECT last_value, is_called FROM listings_id_seq`

	var (
		last   int64
		called bool
	)
	if err := conn(ctx, s.pool).QueryRow(ctx, query).Scan(&last, &called); err != nil {
		return 0, fmt.Errorf("postgres: current listing id: %w", err)
	}
	if !called {
		return 0, nil
	}
	return uint64(last), nil
}

// List returns listings matching f, newest first.
func (s *ListingStore) List(ctx context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.ActiveOnly {
		query += " AND active"
	}
	if f.Seller != nil {
		query += fmt.Sprintf(" AND seller = $%d", argIdx)
		args = append(args, f.Seller.Hex())
		argIdx++
	}

	query += " ORDER BY id DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	listings := []domain.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return listings, nil
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l                domain.Listing
		id               int64
		registry, seller string
		assetID, price   string
	)
	if err := row.Scan(&id, &registry, &assetID, &seller, &price, &l.Active, &l.CreatedAt, &l.ClosedAt); err != nil {
		return domain.Listing{}, err
	}
	var err error
	l.ID = uint64(id)
	l.Registry = parseAddress(registry)
	l.Seller = parseAddress(seller)
	if l.AssetID, err = parseAmount(assetID); err != nil {
		return domain.Listing{}, err
	}
	if l.Price, err = parseAmount(price); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
