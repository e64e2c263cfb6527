// Package local is an in-process domain.SignalBus used when neither Redis nor
// NATS is configured, and in tests.
package local

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/predictx/internal/domain"
)

const (
	subscriberBuffer = 128
	defaultMaxLen    = 10000
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

// Bus fans published payloads out to matching subscribers and keeps a
// bounded in-memory log per stream. Slow subscribers drop messages rather
// than block publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][]domain.StreamMessage
	seq     map[string]int64
	maxLen  int
}

// New creates a Bus keeping at most maxLen entries per stream.
func New(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Bus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]int64),
		maxLen:  maxLen,
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe accepts glob patterns ("*") like Redis PSUBSCRIBE. The returned
// channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}()
	return s.ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq[stream]++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq[stream], 10),
		Payload: append([]byte(nil), payload...),
	})
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with an id greater than lastID.
// "0" reads from the beginning; "$" returns nothing.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	after, err := strconv.ParseInt(trimSeq(lastID), 10, 64)
	if err != nil {
		after = 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// trimSeq accepts Redis-style "N-M" ids and keeps N.
func trimSeq(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return id[:i]
		}
	}
	return id
}

var _ domain.SignalBus = (*Bus)(nil)
