package raffle

import (
	"fmt"
	"math/big"
)

// appendDeposit records a priced deposit as the next range of the pool.
// The caller has already checked state, allow-list, cap, and minimum value.
func (g *Game) appendDeposit(depositor, token Address, rawAmount, value *big.Int) WeightedRange {
	start := new(big.Int).Set(g.PoolUSD)
	end := new(big.Int).Add(start, value)
	r := WeightedRange{Depositor: depositor, Token: token, Start: start, End: end}

	g.Ranges = append(g.Ranges, r)
	g.PoolUSD = new(big.Int).Set(end)

	if held, ok := g.Holdings[token]; ok {
		g.Holdings[token] = new(big.Int).Add(held, rawAmount)
	} else {
		g.Tokens = append(g.Tokens, token)
		g.Holdings[token] = new(big.Int).Set(rawAmount)
	}

	if !g.hasParticipant(depositor) {
		g.participants[depositor] = struct{}{}
		g.Participants = append(g.Participants, depositor)
	}
	return copyRanges([]WeightedRange{r})[0]
}

func (g *Game) hasParticipant(addr Address) bool {
	_, ok := g.participants[addr]
	return ok
}

// verifyPartition checks that the ranges exactly cover [0, PoolUSD) in order.
func (g *Game) verifyPartition() error {
	cursor := new(big.Int)
	for i, r := range g.Ranges {
		if r.Start.Cmp(cursor) != 0 {
			return fmt.Errorf("%w: range %d starts at %s, expected %s", ErrInvariantViolation, i, r.Start, cursor)
		}
		if r.End.Cmp(r.Start) <= 0 {
			return fmt.Errorf("%w: range %d is empty", ErrInvariantViolation, i)
		}
		cursor = r.End
	}
	if cursor.Cmp(g.PoolUSD) != 0 {
		return fmt.Errorf("%w: ranges cover %s, pool is %s", ErrInvariantViolation, cursor, g.PoolUSD)
	}
	return nil
}

func copyRanges(in []WeightedRange) []WeightedRange {
	out := make([]WeightedRange, len(in))
	for i, r := range in {
		out[i] = WeightedRange{
			Depositor: r.Depositor,
			Token:     r.Token,
			Start:     new(big.Int).Set(r.Start),
			End:       new(big.Int).Set(r.End),
		}
	}
	return out
}

func copyAmounts(in map[Address]*big.Int) map[Address]*big.Int {
	out := make(map[Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}
