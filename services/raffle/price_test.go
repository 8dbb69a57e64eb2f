package raffle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceNormalizer_Normalize(t *testing.T) {
	clock := newTestClock()
	p := NewPriceNormalizer(time.Hour, clock.Now)
	ctx := context.Background()

	quote := func(price int64, decimals uint8) PriceFeed {
		return PriceFeedFunc(func(ctx context.Context) (Quote, error) {
			return Quote{Price: big.NewInt(price), Decimals: decimals, UpdatedAt: clock.Now()}, nil
		})
	}

	cases := []struct {
		name   string
		cfg    TokenConfig
		amount *big.Int
		want   *big.Int
	}{
		{"six decimal stablecoin", TokenConfig{Feed: quote(100_000_000, 8), Decimals: 6}, usdcUnits(10), usd(10)},
		{"eighteen decimal token", TokenConfig{Feed: quote(200_000_000_000, 8), Decimals: 18}, wethUnits(1), usd(2000)},
		{"eighteen decimal feed", TokenConfig{Feed: quote(3_000_000_000_000_000_000, 18), Decimals: 18}, wethUnits(2), usd(6)},
		{"fractional amount", TokenConfig{Feed: quote(200_000_000_000, 8), Decimals: 18}, new(big.Int).Quo(wethUnits(1), big.NewInt(4)), usd(500)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Normalize(ctx, tc.cfg, tc.amount)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Cmp(tc.want), "got %s want %s", got, tc.want)
		})
	}
}

func TestPriceNormalizer_HighPrecisionFeed(t *testing.T) {
	clock := newTestClock()
	p := NewPriceNormalizer(time.Hour, clock.Now)
	feed := PriceFeedFunc(func(ctx context.Context) (Quote, error) {
		// $1.5 quoted with 24 decimals.
		price := new(big.Int).Mul(big.NewInt(15), pow10(23))
		return Quote{Price: price, Decimals: 24, UpdatedAt: clock.Now()}, nil
	})

	got, err := p.Normalize(context.Background(), TokenConfig{Feed: feed, Decimals: 6}, usdcUnits(2))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(usd(3)))
}

func TestPriceNormalizer_Rejections(t *testing.T) {
	clock := newTestClock()
	p := NewPriceNormalizer(time.Hour, clock.Now)
	ctx := context.Background()

	_, err := p.Normalize(ctx, TokenConfig{}, usdcUnits(1))
	assert.ErrorIs(t, err, ErrTokenNotAllowed)

	failing := PriceFeedFunc(func(ctx context.Context) (Quote, error) {
		return Quote{}, errors.New("feed offline")
	})
	_, err = p.Normalize(ctx, TokenConfig{Feed: failing, Decimals: 6}, usdcUnits(1))
	assert.ErrorIs(t, err, ErrPriceFeed)
	assert.Contains(t, err.Error(), "feed offline")

	for _, price := range []int64{0, -1} {
		feed := NewStaticPriceFeed(big.NewInt(price), 8)
		feed.Touch(clock.Now())
		_, err = p.Normalize(ctx, TokenConfig{Feed: feed, Decimals: 6}, usdcUnits(1))
		assert.ErrorIs(t, err, ErrStalePrice, "price %d", price)
	}

	stale := NewStaticPriceFeed(big.NewInt(100_000_000), 8)
	stale.Touch(clock.Now().Add(-time.Hour - time.Second))
	_, err = p.Normalize(ctx, TokenConfig{Feed: stale, Decimals: 6}, usdcUnits(1))
	assert.ErrorIs(t, err, ErrStalePrice)

	edge := NewStaticPriceFeed(big.NewInt(100_000_000), 8)
	edge.Touch(clock.Now().Add(-time.Hour))
	_, err = p.Normalize(ctx, TokenConfig{Feed: edge, Decimals: 6}, usdcUnits(1))
	assert.NoError(t, err)
}
