package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictx/internal/domain"
)

type countingSource struct {
	calls int
	md    domain.MarketData
	err   error
}

func (c *countingSource) GetMarketData(context.Context, string) (domain.MarketData, error) {
	c.calls++
	return c.md, c.err
}

func TestQuoteEncodeDecode(t *testing.T) {
	md := domain.MarketData{
		CurrentPrice:     64123.5,
		MarketCap:        1.2e12,
		Volume24h:        3.4e10,
		PercentChange1h:  -0.2,
		PercentChange24h: 1.75,
		PercentChange7d:  -4,
	}
	enc := encodeQuote(md, time.Unix(0, 42))
	vals := make(map[string]string, len(enc))
	for k, v := range enc {
		vals[k] = v.(string)
	}
	assert.Equal(t, "42", vals["ts"])

	got, ok := decodeQuote(vals)
	require.True(t, ok)
	assert.Equal(t, md, got)

	delete(vals, "ch7d")
	_, ok = decodeQuote(vals)
	assert.False(t, ok)

	vals["ch7d"] = "abc"
	_, ok = decodeQuote(vals)
	assert.False(t, ok)
}

func TestQuoteCacheFallsThroughWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	src := &countingSource{md: domain.MarketData{CurrentPrice: 10}}
	qc := NewQuoteCache(&Client{rdb: rdb}, src, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, defaultQuoteTTL, qc.ttl)

	md, err := qc.GetMarketData(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, 10.0, md.CurrentPrice)
	assert.Equal(t, 1, src.calls)

	src.err = domain.ErrAssetNotFound
	_, err = qc.GetMarketData(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteKeyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, quoteKey("BTC"), quoteKey("btc"))
	assert.Equal(t, "predictx:quote:ETH", quoteKey("eth"))
}
