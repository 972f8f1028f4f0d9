package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/txn"
)

// querier is the subset of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Transactor implements domain.Transactor on a pgx pool. The pgx transaction
// rides in the context next to the txn journal, so in-process collaborators
// that journal their changes commit and roll back with the database. A nested
// WithinTx becomes a SAVEPOINT.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor creates a Transactor for pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx implements domain.Transactor.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if parent := currentTx(ctx); parent != nil {
		tx, err = parent.Begin(ctx)
	} else {
		tx, err = t.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return txn.Run(ctx, func(ctx context.Context) error {
		ctx = context.WithValue(ctx, txKey{}, tx)
		if err := fn(ctx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit: %w", err)
		}
		return nil
	})
}

// currentTx returns the transaction carried by ctx. A context detached from
// its journal (see txn.Detach) no longer uses the transaction.
func currentTx(ctx context.Context) pgx.Tx {
	if !txn.Active(ctx) {
		return nil
	}
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// conn returns the transaction carried by ctx, or pool.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := currentTx(ctx); tx != nil {
		return tx
	}
	return pool
}

// NewStores wires every store on pool into a domain.Stores.
func NewStores(pool *pgxpool.Pool) domain.Stores {
	return domain.Stores{
		Tx:        NewTransactor(pool),
		Listings:  NewListingStore(pool),
		Royalties: NewRoyaltyStore(pool),
		Earnings:  NewEarningsStore(pool),
		Audit:     NewAuditStore(pool),
	}
}

var _ domain.Transactor = (*Transactor)(nil)
