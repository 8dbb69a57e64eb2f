package raffle

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// PriceNormalizer converts raw token amounts into 18-decimal USD values using
// the token's bound price feed. It never reads or writes ledger state.
type PriceNormalizer struct {
	freshness time.Duration
	now       func() time.Time
}

// NewPriceNormalizer returns a normalizer that rejects quotes older than freshness.
func NewPriceNormalizer(freshness time.Duration, now func() time.Time) *PriceNormalizer {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	if now == nil {
		now = time.Now
	}
	return &PriceNormalizer{freshness: freshness, now: now}
}

// Normalize prices rawAmount of a token described by cfg.
func (p *PriceNormalizer) Normalize(ctx context.Context, cfg TokenConfig, rawAmount *big.Int) (*big.Int, error) {
	if cfg.Feed == nil {
		return nil, ErrTokenNotAllowed
	}
	quote, err := cfg.Feed.LatestQuote(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceFeed, err)
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", ErrStalePrice)
	}
	if age := p.now().Sub(quote.UpdatedAt); age > p.freshness {
		return nil, fmt.Errorf("%w: quote is %s old", ErrStalePrice, age.Truncate(time.Second))
	}
	return usdValue(rawAmount, quote.Price, quote.Decimals, cfg.Decimals), nil
}

// usdValue returns rawAmount * price / 10^tokenDecimals with price rescaled
// from priceDecimals to 18 decimals.
func usdValue(rawAmount, price *big.Int, priceDecimals, tokenDecimals uint8) *big.Int {
	price18 := rescale(price, int(priceDecimals), USDDecimals)
	value := new(big.Int).Mul(rawAmount, price18)
	return value.Quo(value, pow10(int(tokenDecimals)))
}

func rescale(v *big.Int, from, to int) *big.Int {
	switch {
	case from < to:
		return new(big.Int).Mul(v, pow10(to-from))
	case from > to:
		return new(big.Int).Quo(v, pow10(from-to))
	default:
		return new(big.Int).Set(v)
	}
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
