// Package memory implements the domain stores in process memory. Mutations
// made inside a transaction are visible immediately to reentrant callers and
// are undone through the txn journal on rollback. Transactions run one at a
// time, so no other transaction sees work that may still be undone.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/txn"
)

// Store holds listings, royalties, earnings and the audit log. mu is held
// only for the duration of a single read or write; gate is held by the
// outermost transaction from start to commit or rollback.
type Store struct {
	gate      sync.Mutex
	mu        sync.Mutex
	lastID    uint64
	listings  map[uint64]domain.Listing
	royalties map[string]domain.RoyaltyAssignment
	earnings  map[common.Address]*big.Int
	audit     []domain.AuditEntry
	now       func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		listings:  make(map[uint64]domain.Listing),
		royalties: make(map[string]domain.RoyaltyAssignment),
		earnings:  make(map[common.Address]*big.Int),
		now:       time.Now,
	}
}

// Stores returns the Store wired into every slot of domain.Stores.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{
		Tx:        s,
		Listings:  s.Listings(),
		Royalties: s.Royalties(),
		Earnings:  s.Earnings(),
		Audit:     s.Audit(),
	}
}

// WithinTx implements domain.Transactor. Reentrant calls carrying the open
// transaction's ctx join it; any other caller waits for it to finish.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txn.RunExclusive(ctx, &s.gate, fn)
}

// Listings returns the listing view of the store.
func (s *Store) Listings() *ListingStore { return &ListingStore{s: s} }

// Royalties returns the royalty view of the store.
func (s *Store) Royalties() *RoyaltyStore { return &RoyaltyStore{s: s} }

// Earnings returns the earnings view of the store.
func (s *Store) Earnings() *EarningsStore { return &EarningsStore{s: s} }

// Audit returns the audit log view of the store.
func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

// ListingStore implements domain.ListingStore.
type ListingStore struct{ s *Store }

// Create allocates the next id. The counter is never rolled back, so ids of
// undone listings are skipped rather than reused.
func (ls *ListingStore) Create(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	s := ls.s
	s.mu.Lock()
	s.lastID++
	l.ID = s.lastID
	l = cloneListing(l)
	s.listings[l.ID] = l
	s.mu.Unlock()

	id := l.ID
	txn.Record(ctx, func() {
		s.mu.Lock()
		delete(s.listings, id)
		s.mu.Unlock()
	})
	return cloneListing(l), nil
}

// Get returns domain.ErrNotFound for unknown ids.
func (ls *ListingStore) Get(_ context.Context, id uint64) (domain.Listing, error) {
	s := ls.s
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return cloneListing(l), nil
}

// Deactivate flips the active flag under the store lock, so two callers can
// never both observe the transition.
func (ls *ListingStore) Deactivate(ctx context.Context, id uint64, at time.Time) (bool, error) {
	s := ls.s
	s.mu.Lock()
	l, ok := s.listings[id]
	if !ok || !l.Active {
		s.mu.Unlock()
		return false, nil
	}
	prev := l
	closed := at
	l.Active = false
	l.ClosedAt = &closed
	s.listings[id] = l
	s.mu.Unlock()

	txn.Record(ctx, func() {
		s.mu.Lock()
		s.listings[id] = prev
		s.mu.Unlock()
	})
	return true, nil
}

// CurrentID returns the last issued id.
func (ls *ListingStore) CurrentID(context.Context) (uint64, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	return ls.s.lastID, nil
}

// List returns listings ordered by id, newest first.
func (ls *ListingStore) List(_ context.Context, f domain.ListingFilter) ([]domain.Listing, error) {
	s := ls.s
	s.mu.Lock()
	out := make([]domain.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if f.ActiveOnly && !l.Active {
			continue
		}
		if f.Seller != nil && l.Seller != *f.Seller {
			continue
		}
		out = append(out, cloneListing(l))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []domain.Listing{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneListing(l domain.Listing) domain.Listing {
	l.AssetID = cloneInt(l.AssetID)
	l.Price = cloneInt(l.Price)
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		l.ClosedAt = &t
	}
	return l
}

// ---------------------------------------------------------------------------
// Royalties
// ---------------------------------------------------------------------------

// RoyaltyStore implements domain.RoyaltyStore.
type RoyaltyStore struct{ s *Store }

// Set overwrites the assignment for the asset.
func (rs *RoyaltyStore) Set(ctx context.Context, r domain.RoyaltyAssignment) error {
	s := rs.s
	key := domain.AssetKey(r.Registry, r.AssetID)
	r.AssetID = cloneInt(r.AssetID)

	s.mu.Lock()
	prev, existed := s.royalties[key]
	s.royalties[key] = r
	s.mu.Unlock()

	written := r
	txn.Record(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur := s.royalties[key]
		if cur.Recipient != written.Recipient || cur.PercentageBps != written.PercentageBps || !cur.UpdatedAt.Equal(written.UpdatedAt) {
			return
		}
		if existed {
			s.royalties[key] = prev
		} else {
			delete(s.royalties, key)
		}
	})
	return nil
}

// Get returns the zero assignment when none is set.
func (rs *RoyaltyStore) Get(_ context.Context, registry common.Address, assetID *big.Int) (domain.RoyaltyAssignment, error) {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.royalties[domain.AssetKey(registry, assetID)]
	if !ok {
		return domain.RoyaltyAssignment{}, nil
	}
	r.AssetID = cloneInt(r.AssetID)
	return r, nil
}

// ---------------------------------------------------------------------------
// Earnings
// ---------------------------------------------------------------------------

// EarningsStore implements domain.EarningsStore.
type EarningsStore struct{ s *Store }

// Credit adds amount to the party's balance.
func (es *EarningsStore) Credit(ctx context.Context, party common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	delta := cloneInt(amount)
	es.add(party, delta)
	txn.Record(ctx, func() { es.add(party, new(big.Int).Neg(delta)) })
	return nil
}

// Balance returns the party's balance, zero when nothing accrued.
func (es *EarningsStore) Balance(_ context.Context, party common.Address) (*big.Int, error) {
	es.s.mu.Lock()
	defer es.s.mu.Unlock()
	return cloneInt(balanceOrZero(es.s.earnings[party])), nil
}

// Drain zeroes the balance in the same critical section that reads it.
func (es *EarningsStore) Drain(ctx context.Context, party common.Address) (*big.Int, error) {
	s := es.s
	s.mu.Lock()
	prev := s.earnings[party]
	if prev == nil || prev.Sign() == 0 {
		s.mu.Unlock()
		return new(big.Int), nil
	}
	s.earnings[party] = new(big.Int)
	s.mu.Unlock()

	drained := cloneInt(prev)
	txn.Record(ctx, func() { es.add(party, drained) })
	return cloneInt(prev), nil
}

// add applies a signed delta. Undo actions are deltas rather than snapshots
// so that rolling back one transaction never erases another's credit.
func (es *EarningsStore) add(party common.Address, delta *big.Int) {
	s := es.s
	s.mu.Lock()
	defer s.mu.Unlock()
	next := new(big.Int).Add(balanceOrZero(s.earnings[party]), delta)
	if next.Sign() == 0 {
		delete(s.earnings, party)
		return
	}
	s.earnings[party] = next
}

func balanceOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

// Log appends an entry. Entries appended inside a transaction disappear if it
// rolls back.
func (as *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s := as.s
	s.mu.Lock()
	entry := domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	s.audit = append(s.audit, entry)
	s.mu.Unlock()

	txn.Record(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(s.audit) - 1; i >= 0; i-- {
			if s.audit[i].ID == entry.ID {
				s.audit = append(s.audit[:i], s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

// List returns entries newest first.
func (as *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.AuditEntry{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ListBefore returns entries created strictly before the cutoff, oldest first.
func (as *AuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.Transactor    = (*Store)(nil)
	_ domain.ListingStore  = (*ListingStore)(nil)
	_ domain.RoyaltyStore  = (*RoyaltyStore)(nil)
	_ domain.EarningsStore = (*EarningsStore)(nil)
	_ domain.AuditStore    = (*AuditStore)(nil)
)
