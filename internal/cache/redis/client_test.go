package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		addr    string
		db      int
		pool    int
		tls     bool
		wantErr bool
	}{
		{name: "addr", cfg: ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 7}, addr: "cache:6379", db: 2, pool: 7},
		{name: "url wins", cfg: ClientConfig{URL: "redis://:pw@remote:6380/3", Addr: "ignored:1", DB: 9}, addr: "remote:6380", db: 3},
		{name: "tls flag", cfg: ClientConfig{Addr: "cache:6379", TLSEnabled: true}, addr: "cache:6379", tls: true},
		{name: "rediss url", cfg: ClientConfig{URL: "rediss://remote:6380/0"}, addr: "remote:6380", tls: true},
		{name: "bad url", cfg: ClientConfig{URL: "http://nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.cfg.options()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, opts.Addr)
			assert.Equal(t, tt.db, opts.DB)
			if tt.pool > 0 {
				assert.Equal(t, tt.pool, opts.PoolSize)
			}
			assert.Equal(t, tt.tls, opts.TLSConfig != nil)
		})
	}
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping")
}
