package raffle

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// settlementEngine converts a game's holdings into the payout token.
type settlementEngine struct {
	router      SwapRouter
	payoutToken Address
	payoutDec   uint8
	recipient   Address
	feeTier     uint32
	minOutBps   uint32
	now         func() time.Time
}

// swapAll swaps every held token into the payout token and returns the total.
// Tokens present in swapped were converted by an earlier attempt and count with
// their recorded output. done holds the outputs of swaps completed by this call
// and is returned even when a later swap fails. Tokens missing from decimals are
// treated as having DefaultTokenDecimals.
func (s *settlementEngine) swapAll(
	ctx context.Context,
	tokens []Address,
	holdings map[Address]*big.Int,
	decimals map[Address]uint8,
	swapped map[Address]*big.Int,
) (total *big.Int, done map[Address]*big.Int, err error) {
	total = new(big.Int)
	done = make(map[Address]*big.Int)
	for _, token := range tokens {
		if out, ok := swapped[token]; ok {
			total.Add(total, out)
			continue
		}
		amount := holdings[token]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if token == s.payoutToken {
			total.Add(total, amount)
			continue
		}
		inDec, ok := decimals[token]
		if !ok {
			inDec = DefaultTokenDecimals
		}
		minOut := minAmountOut(amount, inDec, s.payoutDec, s.minOutBps)
		out, err := s.router.ExactInputSingle(ctx, SwapParams{
			TokenIn:      token,
			TokenOut:     s.payoutToken,
			FeeTier:      s.feeTier,
			AmountIn:     new(big.Int).Set(amount),
			MinAmountOut: minOut,
			Deadline:     s.now(),
			Recipient:    s.recipient,
		})
		if err != nil {
			return nil, done, fmt.Errorf("%w: %s: %v", ErrSwapFailed, token, err)
		}
		if out == nil || out.Cmp(minOut) < 0 {
			// the router reported a short fill without reverting; the input is gone
			if out != nil && out.Sign() > 0 {
				done[token] = new(big.Int).Set(out)
			}
			return nil, done, fmt.Errorf("%w: %s returned %v, floor %s", ErrSlippage, token, out, minOut)
		}
		done[token] = new(big.Int).Set(out)
		total.Add(total, out)
	}
	return total, done, nil
}

// minAmountOut is the slippage floor: bps of amountIn, rescaled from the input
// token's decimals to the payout token's.
func minAmountOut(amountIn *big.Int, inDecimals, outDecimals uint8, bps uint32) *big.Int {
	out := rescale(amountIn, int(inDecimals), int(outDecimals))
	out.Mul(out, big.NewInt(int64(bps)))
	return out.Quo(out, big.NewInt(BasisPoints))
}

// splitFees divides total between platform, founder, and winner. The winner
// receives the remainder so rounding never loses value.
func splitFees(total *big.Int, platformBps, founderBps uint32) (platform, founder, winner *big.Int) {
	platform = new(big.Int).Mul(total, big.NewInt(int64(platformBps)))
	platform.Quo(platform, big.NewInt(BasisPoints))
	founder = new(big.Int).Mul(total, big.NewInt(int64(founderBps)))
	founder.Quo(founder, big.NewInt(BasisPoints))
	winner = new(big.Int).Sub(total, platform)
	winner.Sub(winner, founder)
	return platform, founder, winner
}
