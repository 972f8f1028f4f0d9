package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
	"github.com/alanyoungcy/royaltymarket/internal/txn"
)

var (
	registry = common.HexToAddress("0x000000000000000000000000000000000000c001")
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a001")
	bob      = common.HexToAddress("0x000000000000000000000000000000000000a002")
)

var errAbort = errors.New("abort")

func newListing() domain.Listing {
	return domain.Listing{
		Registry: registry,
		AssetID:  big.NewInt(1),
		Seller:   alice,
		Price:    big.NewInt(1000),
		Active:   true,
	}
}

func TestListingIDsAreMonotonicAndNeverReused(t *testing.T) {
	s := New()
	ctx := context.Background()

	l, err := s.Listings().Create(ctx, newListing())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), l.ID)

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		l, err := s.Listings().Create(ctx, newListing())
		require.NoError(t, err)
		assert.Equal(t, uint64(2), l.ID)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = s.Listings().Get(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	l, err = s.Listings().Create(ctx, newListing())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), l.ID)

	cur, err := s.Listings().CurrentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cur)
}

func TestDeactivateIsCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	l, err := s.Listings().Create(ctx, newListing())
	require.NoError(t, err)

	ok, err := s.Listings().Deactivate(ctx, l.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Listings().Deactivate(ctx, l.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Listings().Deactivate(ctx, 99, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeactivateRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	l, err := s.Listings().Create(ctx, newListing())
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.Listings().Deactivate(ctx, l.ID, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := s.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Nil(t, got.ClosedAt)
}

func TestListingIsReturnedByValue(t *testing.T) {
	s := New()
	ctx := context.Background()
	l, err := s.Listings().Create(ctx, newListing())
	require.NoError(t, err)

	l.Price.SetInt64(1)
	got, err := s.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Price.Int64())
}

func TestRoyaltyOverwriteAndRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	rs := s.Royalties()

	r, err := rs.Get(ctx, registry, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, r.Recipient)

	require.NoError(t, rs.Set(ctx, domain.RoyaltyAssignment{Registry: registry, AssetID: big.NewInt(1), Recipient: alice, PercentageBps: 100}))
	require.NoError(t, rs.Set(ctx, domain.RoyaltyAssignment{Registry: registry, AssetID: big.NewInt(1), Recipient: bob, PercentageBps: 200}))

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, rs.Set(ctx, domain.RoyaltyAssignment{Registry: registry, AssetID: big.NewInt(1), Recipient: alice, PercentageBps: 900}))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	r, err = rs.Get(ctx, registry, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, bob, r.Recipient)
	assert.Equal(t, uint16(200), r.PercentageBps)
}

func TestEarningsCreditDrain(t *testing.T) {
	s := New()
	ctx := context.Background()
	es := s.Earnings()

	require.NoError(t, es.Credit(ctx, alice, big.NewInt(10)))
	require.NoError(t, es.Credit(ctx, alice, big.NewInt(5)))

	b, err := es.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(15), b.Int64())

	drained, err := es.Drain(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(15), drained.Int64())

	drained, err = es.Drain(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), drained.Int64())
}

func TestEarningsRollbackKeepsOtherCredits(t *testing.T) {
	s := New()
	ctx := context.Background()
	es := s.Earnings()
	require.NoError(t, es.Credit(ctx, alice, big.NewInt(100)))

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		drained, err := es.Drain(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, int64(100), drained.Int64())

		// An unrelated committed credit lands while the drain is pending.
		require.NoError(t, es.Credit(txn.Detach(ctx), alice, big.NewInt(7)))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	b, err := es.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(107), b.Int64())
}

func TestAuditLogRollbackAndOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	as := s.Audit()

	require.NoError(t, as.Log(ctx, "first", map[string]any{"n": 1}))
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, as.Log(ctx, "discarded", nil))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	require.NoError(t, as.Log(ctx, "second", nil))

	entries, err := as.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event)
	assert.Equal(t, "first", entries[1].Event)

	limited, err := as.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "first", limited[0].Event)

	old, err := as.ListBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, "first", old[0].Event)
}
