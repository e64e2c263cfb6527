package nats

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectNaming(t *testing.T) {
	b := &Bus{prefix: "predictx"}
	assert.Equal(t, "predictx.markets", b.subject("markets"))
	assert.Equal(t, "predictx.pred>", b.subject("pred*"))
	assert.Equal(t, "PREDICTX_EVENTS_LOG", b.streamName("events:log"))
	assert.Equal(t, "predictx.stream.events.log", b.streamSubject("events:log"))
}

// connectTestBus dials the JetStream-enabled server named by
// PREDICTX_TEST_NATS_URL, skipping when it is unset. Each test gets its own
// subject prefix.
func connectTestBus(t *testing.T) *Bus {
	t.Helper()
	url := os.Getenv("PREDICTX_TEST_NATS_URL")
	if url == "" {
		t.Skip("PREDICTX_TEST_NATS_URL not set")
	}
	prefix := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	b, err := Connect(Config{URL: url, SubjectPrefix: prefix, StreamMaxLen: 100, Name: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBusPublishSubscribe(t *testing.T) {
	b := connectTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "bets")
	require.NoError(t, err)
	require.NoError(t, b.nc.Flush())

	require.NoError(t, b.Publish(ctx, "markets", []byte("other")))
	require.NoError(t, b.Publish(ctx, "bets", []byte("bet-1")))

	select {
	case got := <-msgs:
		assert.Equal(t, "bet-1", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-msgs
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBusStreamReadAfter(t *testing.T) {
	b := connectTestBus(t)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "events:log", []byte(p)))
	}

	all, err := b.StreamRead(ctx, "events:log", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", string(all[0].Payload))

	rest, err := b.StreamRead(ctx, "events:log", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", string(rest[0].Payload))

	none, err := b.StreamRead(ctx, "events:log", "$", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
