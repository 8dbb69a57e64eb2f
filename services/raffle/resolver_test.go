package raffle

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangesOf(widths ...int64) ([]WeightedRange, *big.Int) {
	g := newGame(1, newTestClock().Now(), DefaultGameDuration)
	for i, w := range widths {
		who := Address(string(rune('a' + i)))
		g.appendDeposit(who, usdc, big.NewInt(w), usd(w))
	}
	return g.Ranges, g.PoolUSD
}

func TestResolveWinner_Example(t *testing.T) {
	ranges, pool := rangesOf(10, 20, 70)

	cases := []struct {
		word *big.Int
		want Address
	}{
		{usd(35), "c"},
		{usd(5), "a"},
		{big.NewInt(0), "a"},
		{usd(10), "b"},
		{new(big.Int).Sub(usd(30), big.NewInt(1)), "b"},
		{usd(30), "c"},
		{new(big.Int).Sub(usd(100), big.NewInt(1)), "c"},
		// The draw point wraps modulo the pool.
		{usd(105), "a"},
		{new(big.Int).Add(new(big.Int).Mul(usd(100), big.NewInt(1_000_000)), usd(15)), "b"},
	}
	for _, tc := range cases {
		winner, point, err := ResolveWinner(ranges, tc.word, pool)
		require.NoError(t, err)
		assert.Equal(t, tc.want, winner.Depositor, "word %s", tc.word)
		assert.True(t, winner.Contains(point))
		assert.True(t, point.Cmp(pool) < 0)
	}
}

func TestResolveWinner_IsPure(t *testing.T) {
	ranges, pool := rangesOf(3, 1, 4, 1, 5, 9, 2, 6)
	before := copyRanges(ranges)
	word := new(big.Int).Lsh(big.NewInt(0xdeadbeef), 200)

	first, p1, err := ResolveWinner(ranges, word, pool)
	require.NoError(t, err)
	second, p2, err := ResolveWinner(ranges, word, pool)
	require.NoError(t, err)

	assert.Equal(t, first.Depositor, second.Depositor)
	assert.Equal(t, 0, p1.Cmp(p2))
	assert.Equal(t, before, ranges)
}

func TestResolveWinner_UniqueRange(t *testing.T) {
	ranges, pool := rangesOf(7, 13, 1, 29)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		word := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 256))
		point := new(big.Int).Mod(word, pool)

		matches := 0
		for _, r := range ranges {
			if r.Contains(point) {
				matches++
			}
		}
		require.Equal(t, 1, matches)

		winner, _, err := ResolveWinner(ranges, word, pool)
		require.NoError(t, err)
		assert.True(t, winner.Contains(point))
	}
}

func TestResolveWinner_Fairness(t *testing.T) {
	ranges, pool := rangesOf(10, 20, 70)
	rng := rand.New(rand.NewSource(42))
	limit := new(big.Int).Lsh(big.NewInt(1), 256)

	const draws = 100_000
	wins := map[Address]int{}
	for i := 0; i < draws; i++ {
		winner, _, err := ResolveWinner(ranges, new(big.Int).Rand(rng, limit), pool)
		require.NoError(t, err)
		wins[winner.Depositor]++
	}

	for who, share := range map[Address]float64{"a": 0.10, "b": 0.20, "c": 0.70} {
		got := float64(wins[who]) / draws
		assert.InDelta(t, share, got, 0.01, "depositor %s", who)
	}
}

func TestResolveWinner_InvariantViolations(t *testing.T) {
	_, _, err := ResolveWinner(nil, big.NewInt(1), big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvariantViolation)

	ranges, pool := rangesOf(10, 20)
	// Claiming a larger pool than the ranges cover leaves points unmatched.
	_, _, err = ResolveWinner(ranges, usd(35), new(big.Int).Add(pool, usd(10)))
	assert.ErrorIs(t, err, ErrInvariantViolation)

	gapped := copyRanges(ranges)
	gapped[1].Start = usd(12)
	_, _, err = ResolveWinner(gapped, usd(11), pool)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}
