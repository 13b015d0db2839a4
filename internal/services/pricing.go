package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrNonPositivePrice = errors.New("order price must be positive")

// PriceLadder assigns lower asking prices to lower ranked candidates:
// price(index) = base - step*index, in SOL, converted to lamports per token.
type PriceLadder struct {
	base             decimal.Decimal
	step             decimal.Decimal
	lamportsPerToken decimal.Decimal
}

func NewPriceLadder(base, step decimal.Decimal, lamportsPerToken uint64) *PriceLadder {
	return &PriceLadder{
		base:             base,
		step:             step,
		lamportsPerToken: decimal.NewFromInt(int64(lamportsPerToken)),
	}
}

// Price returns the lamport price of one share of the candidate at index
func (l *PriceLadder) Price(index int) (uint64, error) {
	if index < 0 {
		return 0, fmt.Errorf("negative candidate index %d", index)
	}

	sol := l.base.Sub(l.step.Mul(decimal.NewFromInt(int64(index))))
	lamports := sol.Mul(l.lamportsPerToken).Floor()
	if !lamports.IsPositive() {
		return 0, fmt.Errorf("%w: candidate %d prices at %s SOL", ErrNonPositivePrice, index, sol)
	}
	return uint64(lamports.IntPart()), nil
}
