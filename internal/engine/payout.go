package engine

import (
	"math/bits"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Payout returns amount * pool / winningTotal, multiplying first in 256-bit
// space and flooring once. The floor leaves fewer than one unit per winner
// in the round vault; that dust stays until the round is swept.
func Payout(amount, pool, winningTotal uint64) (uint64, error) {
	if winningTotal == 0 || amount == 0 {
		return 0, domain.ErrNoPrizeClaimable
	}
	z, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(amount),
		uint256.NewInt(pool),
		uint256.NewInt(winningTotal),
	)
	if overflow || !z.IsUint64() {
		return 0, domain.ErrMaximumBetAmountReached
	}
	return z.Uint64(), nil
}

// addStake adds amount to one side of the round. It fails when either the
// side total or the whole pool would overflow.
func addStake(r *domain.Round, side domain.Movement, amount uint64) error {
	if _, carry := bits.Add64(r.Pool(), amount, 0); carry != 0 {
		return domain.ErrMaximumBetAmountReached
	}
	switch side {
	case domain.MovementUp:
		r.TotalUp += amount
	case domain.MovementDown:
		r.TotalDown += amount
	default:
		return domain.ErrInvalidPrediction
	}
	return nil
}
