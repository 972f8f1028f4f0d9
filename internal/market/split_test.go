package market

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/royaltymarket/internal/domain"
)

var recipient = common.HexToAddress("0x000000000000000000000000000000000000a001")

func TestSplitConservesPrice(t *testing.T) {
	fees := FeeSchedule{FeeBps: DefaultFeeBps}
	prices := []int64{0, 1, 3, 39, 40, 41, 399, 400, 999, 1000, 1001, 12345, 9_999_999}
	rates := []uint16{0, 1, 7, 250, 499, 500, 999, 1000}

	for _, p := range prices {
		for _, bps := range rates {
			price := big.NewInt(p)
			s, err := fees.Split(price, domain.RoyaltyAssignment{Recipient: recipient, PercentageBps: bps})
			require.NoError(t, err)

			sum := new(big.Int).Add(s.MarketplaceFee, s.Royalty)
			sum.Add(sum, s.SellerProceeds)
			assert.Zero(t, sum.Cmp(price), "price=%d bps=%d", p, bps)
			assert.GreaterOrEqual(t, s.MarketplaceFee.Sign(), 0)
			assert.GreaterOrEqual(t, s.Royalty.Sign(), 0)
			assert.GreaterOrEqual(t, s.SellerProceeds.Sign(), 0)
		}
	}
}

func TestSplitFloorsShares(t *testing.T) {
	fees := FeeSchedule{FeeBps: DefaultFeeBps}

	// 2.5% of 39 is 0.975 and 5% of 39 is 1.95.
	s, err := fees.Split(big.NewInt(39), domain.RoyaltyAssignment{Recipient: recipient, PercentageBps: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.MarketplaceFee.Int64())
	assert.Equal(t, int64(1), s.Royalty.Int64())
	assert.Equal(t, int64(38), s.SellerProceeds.Int64())
}

func TestSplitReferenceScenarios(t *testing.T) {
	fees := FeeSchedule{FeeBps: DefaultFeeBps}

	s, err := fees.Split(big.NewInt(1000), domain.RoyaltyAssignment{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), s.MarketplaceFee.Int64())
	assert.Equal(t, int64(0), s.Royalty.Int64())
	assert.Equal(t, int64(975), s.SellerProceeds.Int64())
	assert.Equal(t, common.Address{}, s.RoyaltyRecipient)

	s, err = fees.Split(big.NewInt(1000), domain.RoyaltyAssignment{Recipient: recipient, PercentageBps: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(25), s.MarketplaceFee.Int64())
	assert.Equal(t, int64(50), s.Royalty.Int64())
	assert.Equal(t, int64(925), s.SellerProceeds.Int64())
	assert.Equal(t, recipient, s.RoyaltyRecipient)
}

func TestSplitIgnoresUnpayableRoyalty(t *testing.T) {
	fees := FeeSchedule{FeeBps: DefaultFeeBps}

	s, err := fees.Split(big.NewInt(1000), domain.RoyaltyAssignment{PercentageBps: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Royalty.Int64())

	s, err = fees.Split(big.NewInt(1000), domain.RoyaltyAssignment{Recipient: recipient})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Royalty.Int64())
}

func TestSplitRejectsOutOfRange(t *testing.T) {
	fees := FeeSchedule{FeeBps: DefaultFeeBps}

	_, err := fees.Split(big.NewInt(-1), domain.RoyaltyAssignment{})
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = fees.Split(big.NewInt(1000), domain.RoyaltyAssignment{Recipient: recipient, PercentageBps: 1001})
	assert.ErrorIs(t, err, domain.ErrPercentageTooHigh)
}

func TestFeeScheduleValidate(t *testing.T) {
	assert.NoError(t, FeeSchedule{FeeBps: DefaultFeeBps}.Validate())
	assert.NoError(t, FeeSchedule{FeeBps: 9000}.Validate())
	assert.Error(t, FeeSchedule{FeeBps: 9001}.Validate())
}
