package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const defaultQuoteTTL = time.Minute

// QuoteCache wraps a domain.MarketDataSource with a Redis read-through
// cache. Each quote is stored as a hash at predictx:quote:{ASSET} with one
// field per metric plus "ts" (Unix nanoseconds) and expires after ttl.
// Cache failures fall through to the source.
type QuoteCache struct {
	rdb    *redis.Client
	source domain.MarketDataSource
	ttl    time.Duration
	logger *slog.Logger
}

// NewQuoteCache creates a QuoteCache. ttl <= 0 uses one minute.
func NewQuoteCache(c *Client, source domain.MarketDataSource, ttl time.Duration, logger *slog.Logger) *QuoteCache {
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	return &QuoteCache{
		rdb:    c.Underlying(),
		source: source,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "quote_cache")),
	}
}

func quoteKey(asset string) string {
	return "predictx:quote:" + strings.ToUpper(asset)
}

// GetMarketData returns the cached quote for asset, fetching and storing it
// on a miss.
func (qc *QuoteCache) GetMarketData(ctx context.Context, asset string) (domain.MarketData, error) {
	key := quoteKey(asset)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	switch {
	case err != nil:
		qc.logger.WarnContext(ctx, "quote cache read failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	case len(vals) > 0:
		if md, ok := decodeQuote(vals); ok {
			return md, nil
		}
	}

	md, err := qc.source.GetMarketData(ctx, asset)
	if err != nil {
		return domain.MarketData{}, err
	}
	if err := qc.set(ctx, key, md, time.Now()); err != nil {
		qc.logger.WarnContext(ctx, "quote cache write failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
	}
	return md, nil
}

func (qc *QuoteCache) set(ctx context.Context, key string, md domain.MarketData, ts time.Time) error {
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeQuote(md, ts))
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

func encodeQuote(md domain.MarketData, ts time.Time) map[string]any {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]any{
		"price": f(md.CurrentPrice),
		"cap":   f(md.MarketCap),
		"vol":   f(md.Volume24h),
		"ch1h":  f(md.PercentChange1h),
		"ch24h": f(md.PercentChange24h),
		"ch7d":  f(md.PercentChange7d),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

// decodeQuote rejects a hash missing any field, which forces a refetch.
func decodeQuote(vals map[string]string) (domain.MarketData, bool) {
	var md domain.MarketData
	fields := []struct {
		name string
		dst  *float64
	}{
		{"price", &md.CurrentPrice},
		{"cap", &md.MarketCap},
		{"vol", &md.Volume24h},
		{"ch1h", &md.PercentChange1h},
		{"ch24h", &md.PercentChange24h},
		{"ch7d", &md.PercentChange7d},
	}
	for _, fl := range fields {
		s, ok := vals[fl.name]
		if !ok {
			return domain.MarketData{}, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.MarketData{}, false
		}
		*fl.dst = v
	}
	return md, true
}

// Compile-time interface check.
var _ domain.MarketDataSource = (*QuoteCache)(nil)
