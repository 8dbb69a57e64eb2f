package raffle

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDeposit_Partition(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := newGame(1, newTestClock().Now(), DefaultGameDuration)
	depositors := []Address{alice, bob, carol}
	tokens := []Address{usdc, weth}

	total := new(big.Int)
	for i := 0; i < 200; i++ {
		value := new(big.Int).Add(big.NewInt(rng.Int63n(1_000_000_000)), big.NewInt(1))
		who := depositors[rng.Intn(len(depositors))]
		token := tokens[rng.Intn(len(tokens))]

		r := g.appendDeposit(who, token, big.NewInt(int64(i+1)), value)
		assert.Equal(t, 0, r.Start.Cmp(total))
		total.Add(total, value)
		assert.Equal(t, 0, r.End.Cmp(total))
		assert.Equal(t, 0, r.Width().Cmp(value))

		require.NoError(t, g.verifyPartition())
	}
	assert.Equal(t, 0, g.PoolUSD.Cmp(total))
	assert.Len(t, g.Ranges, 200)
	assert.ElementsMatch(t, depositors, g.Participants)
	assert.ElementsMatch(t, tokens, g.Tokens)
}

func TestAppendDeposit_HoldingsAndParticipants(t *testing.T) {
	g := newGame(1, newTestClock().Now(), DefaultGameDuration)
	g.appendDeposit(bob, weth, big.NewInt(5), usd(5))
	g.appendDeposit(alice, usdc, big.NewInt(7), usd(7))
	g.appendDeposit(bob, weth, big.NewInt(3), usd(3))

	assert.Equal(t, []Address{bob, alice}, g.Participants)
	assert.Equal(t, []Address{weth, usdc}, g.Tokens)
	assert.Equal(t, 0, g.Holdings[weth].Cmp(big.NewInt(8)))
	assert.Equal(t, 0, g.Holdings[usdc].Cmp(big.NewInt(7)))
	assert.Len(t, g.Ranges, 3)
}

func TestAppendDeposit_ReturnedRangeIsIndependent(t *testing.T) {
	g := newGame(1, newTestClock().Now(), DefaultGameDuration)
	r := g.appendDeposit(alice, usdc, big.NewInt(1), usd(1))
	g.appendDeposit(bob, usdc, big.NewInt(1), usd(1))

	r.End.SetInt64(0)
	require.NoError(t, g.verifyPartition())
	assert.Equal(t, 0, g.PoolUSD.Cmp(usd(2)))
}

func TestVerifyPartition_DetectsCorruption(t *testing.T) {
	build := func() *Game {
		g := newGame(1, newTestClock().Now(), DefaultGameDuration)
		g.appendDeposit(alice, usdc, big.NewInt(1), usd(10))
		g.appendDeposit(bob, usdc, big.NewInt(1), usd(20))
		return g
	}

	g := build()
	g.Ranges[1].Start = usd(11)
	assert.ErrorIs(t, g.verifyPartition(), ErrInvariantViolation)

	g = build()
	g.Ranges[0].End = new(big.Int)
	assert.ErrorIs(t, g.verifyPartition(), ErrInvariantViolation)

	g = build()
	g.PoolUSD = usd(31)
	assert.ErrorIs(t, g.verifyPartition(), ErrInvariantViolation)

	g = build()
	g.Ranges = g.Ranges[1:]
	assert.ErrorIs(t, g.verifyPartition(), ErrInvariantViolation)
}
