package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

func TestPayout(t *testing.T) {
	tests := []struct {
		name                  string
		amount, pool, winning uint64
		want                  uint64
	}{
		{"minority winner", 100, 1000, 300, 333},
		{"sole winner takes pool", 300, 1000, 300, 1000},
		{"even split", 50, 200, 100, 100},
		{"no losers", 10, 40, 40, 10},
		{"product exceeds 64 bits", 1 << 63, math.MaxUint64, math.MaxUint64, 1 << 63},
		{"large pool small stake", 1, math.MaxUint64, 3, math.MaxUint64 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Payout(tt.amount, tt.pool, tt.winning)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayoutMultipliesBeforeDividing(t *testing.T) {
	naive := uint64(100) / 300 * 1000
	assert.Equal(t, uint64(0), naive)

	got, err := Payout(100, 1000, 300)
	require.NoError(t, err)
	assert.Equal(t, uint64(333), got)
}

func TestPayoutWithoutWinners(t *testing.T) {
	_, err := Payout(100, 1000, 0)
	require.ErrorIs(t, err, domain.ErrNoPrizeClaimable)
}

func TestAddStakeOverflow(t *testing.T) {
	r := domain.Round{TotalUp: math.MaxUint64 - 5}

	err := addStake(&r, domain.MovementDown, 10)
	require.ErrorIs(t, err, domain.ErrMaximumBetAmountReached)
	assert.Equal(t, uint64(math.MaxUint64-5), r.TotalUp)
	assert.Zero(t, r.TotalDown)

	require.NoError(t, addStake(&r, domain.MovementUp, 5))
	assert.Equal(t, uint64(math.MaxUint64), r.Pool())
}

func TestKeysAreDistinct(t *testing.T) {
	g := GameKey(operator, "p", token, feedID)
	keys := []string{
		ProtocolKey(operator),
		g,
		RoundKey(g, 0),
		RoundKey(g, 1),
		BetKey(alice, RoundKey(g, 0)),
		BetKey(bob, RoundKey(g, 0)),
		VaultKey(g),
		WalletKey(alice, token),
		// Same bytes split differently must not collide.
		GameKey(operator, "pa", "b", "c"),
		GameKey(operator, "p", "ab", "c"),
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Equal(t, RoundKey(g, 7), RoundKey(g, 7))
}

func TestNormalizeFeedID(t *testing.T) {
	got, err := NormalizeFeedID("E62DF6C8B4A85FE1A67DB44DC12DE5DB330F7AC66B72DC658AFEDF0F4A415B43")
	require.NoError(t, err)
	assert.Equal(t, feedID, got)

	_, err = NormalizeFeedID("0x1234")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
