package raffle

import (
	"fmt"
	"math/big"
	"sort"
)

// ResolveWinner maps a random word onto the range partition of a pool.
// The draw point is randomWord mod poolUSD and the winner is the range with
// start <= point < end. Ranges must be contiguous and ordered by insertion,
// so the binary search finds the same range as an ordered scan would.
// A missing match means the ledger is corrupt and is reported as
// ErrInvariantViolation.
func ResolveWinner(ranges []WeightedRange, randomWord, poolUSD *big.Int) (WeightedRange, *big.Int, error) {
	if poolUSD == nil || poolUSD.Sign() <= 0 {
		return WeightedRange{}, nil, fmt.Errorf("%w: pool is empty", ErrInvariantViolation)
	}
	if randomWord == nil {
		randomWord = new(big.Int)
	}
	point := new(big.Int).Mod(randomWord, poolUSD)

	i := sort.Search(len(ranges), func(i int) bool {
		return ranges[i].End.Cmp(point) > 0
	})
	if i == len(ranges) || !ranges[i].Contains(point) {
		return WeightedRange{}, point, fmt.Errorf("%w: no range contains point %s", ErrInvariantViolation, point)
	}
	return ranges[i], point, nil
}
