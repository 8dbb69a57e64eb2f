// Package feeds provides price feeds backed by HTTP price sources.
package feeds

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/raffle_engine/internal/httputil"
	"github.com/R3E-Network/raffle_engine/pkg/logger"
	"github.com/R3E-Network/raffle_engine/services/raffle"
)

const maxBodyBytes = 1 << 20

// Source describes one HTTP price endpoint.
type Source struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	// PricePath is a gjson path to the USD price, e.g. "ethereum.usd".
	PricePath string `json:"price_path" yaml:"price_path"`
	// TimestampPath optionally points at the quote time (unix seconds or RFC3339).
	// When empty the fetch time is used.
	TimestampPath string            `json:"timestamp_path" yaml:"timestamp_path"`
	Decimals      uint8             `json:"decimals" yaml:"decimals"`
	Headers       map[string]string `json:"headers" yaml:"headers"`
	Timeout       time.Duration     `json:"timeout" yaml:"timeout"`
	// CacheTTL reuses the last quote for this long. Zero disables caching.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// HTTPFeed implements raffle.PriceFeed.
type HTTPFeed struct {
	src    Source
	client *httputil.Client
	log    *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	cached    raffle.Quote
	fetchedAt time.Time
}

// NewHTTPFeed validates src and builds a feed.
func NewHTTPFeed(src Source, log *logger.Logger) (*HTTPFeed, error) {
	if src.URL == "" {
		return nil, fmt.Errorf("feed %s: url is required", src.Name)
	}
	if src.PricePath == "" {
		return nil, fmt.Errorf("feed %s: price_path is required", src.Name)
	}
	if src.Decimals == 0 {
		src.Decimals = 8
	}
	if log == nil {
		log = logger.NewDefault("raffle-feeds")
	}
	return &HTTPFeed{
		src: src,
		client: httputil.NewClient(httputil.ClientConfig{
			Timeout: src.Timeout,
			Headers: src.Headers,
		}),
		log: log,
		now: time.Now,
	}, nil
}

// Name returns the source name.
func (f *HTTPFeed) Name() string { return f.src.Name }

// LatestQuote fetches the price, reusing a cached quote within CacheTTL.
func (f *HTTPFeed) LatestQuote(ctx context.Context) (raffle.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if f.src.CacheTTL > 0 && !f.fetchedAt.IsZero() && now.Sub(f.fetchedAt) < f.src.CacheTTL {
		return copyQuote(f.cached), nil
	}

	quote, err := f.fetch(ctx, now)
	if err != nil {
		f.log.WithContext(ctx).WithError(err).WithField("feed", f.src.Name).Warn("price fetch failed")
		return raffle.Quote{}, err
	}
	f.cached = quote
	f.fetchedAt = now
	return copyQuote(quote), nil
}

func (f *HTTPFeed) fetch(ctx context.Context, now time.Time) (raffle.Quote, error) {
	body, err := f.client.GetBody(ctx, f.src.URL, maxBodyBytes)
	if err != nil {
		return raffle.Quote{}, fmt.Errorf("feed %s: %w", f.src.Name, err)
	}
	if !gjson.ValidBytes(body) {
		return raffle.Quote{}, fmt.Errorf("feed %s: response is not valid JSON", f.src.Name)
	}

	raw := gjson.GetBytes(body, f.src.PricePath)
	if !raw.Exists() {
		return raffle.Quote{}, fmt.Errorf("feed %s: path %q not found", f.src.Name, f.src.PricePath)
	}
	price, err := ScalePrice(raw.String(), f.src.Decimals)
	if err != nil {
		return raffle.Quote{}, fmt.Errorf("feed %s: %w", f.src.Name, err)
	}

	updatedAt := now
	if f.src.TimestampPath != "" {
		ts := gjson.GetBytes(body, f.src.TimestampPath)
		if !ts.Exists() {
			return raffle.Quote{}, fmt.Errorf("feed %s: path %q not found", f.src.Name, f.src.TimestampPath)
		}
		updatedAt, err = parseTimestamp(ts)
		if err != nil {
			return raffle.Quote{}, fmt.Errorf("feed %s: %w", f.src.Name, err)
		}
	}

	return raffle.Quote{Price: price.BigInt(), UpdatedAt: updatedAt, Decimals: f.src.Decimals}, nil
}

// ScalePrice converts a decimal price string to an integer with the given
// number of decimals, truncating extra precision.
func ScalePrice(raw string, decimals uint8) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", raw, err)
	}
	return d.Shift(int32(decimals)).Truncate(0), nil
}

func parseTimestamp(v gjson.Result) (time.Time, error) {
	if v.Type == gjson.Number {
		return time.Unix(v.Int(), 0).UTC(), nil
	}
	s := v.String()
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

func copyQuote(q raffle.Quote) raffle.Quote {
	if q.Price != nil {
		q.Price = new(big.Int).Set(q.Price)
	}
	return q
}
