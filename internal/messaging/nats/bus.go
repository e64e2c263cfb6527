// Package nats implements domain.SignalBus on NATS core subjects for
// pub/sub and JetStream for durable streams.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// Config holds connection parameters.
type Config struct {
	URL           string
	SubjectPrefix string
	StreamMaxLen  int64
	Name          string
}

// Bus implements domain.SignalBus.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	maxLen int64

	mu      sync.Mutex
	streams map[string]bool
}

// Connect dials NATS and enables JetStream.
func Connect(cfg Config) (*Bus, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "predictx"
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 10000
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}
	return &Bus{
		nc:      nc,
		js:      js,
		prefix:  cfg.SubjectPrefix,
		maxLen:  cfg.StreamMaxLen,
		streams: make(map[string]bool),
	}, nil
}

// Close drains the connection.
func (b *Bus) Close() error {
	return b.nc.Drain()
}

func (b *Bus) subject(channel string) string {
	// Redis-style "*" at the end of a channel maps to the NATS tail wildcard.
	channel = strings.ReplaceAll(channel, "*", ">")
	return b.prefix + "." + channel
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	if err := b.nc.Publish(b.subject(channel), payload); err != nil {
		return fmt.Errorf("nats: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe forwards messages until ctx is done, then unsubscribes and
// closes the returned channel.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	in := make(chan *nats.Msg, 128)
	sub, err := b.nc.ChanSubscribe(b.subject(channel), in)
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-in:
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) streamName(stream string) string {
	r := strings.NewReplacer(".", "_", ":", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(b.prefix + "_" + r.Replace(stream))
}

func (b *Bus) streamSubject(stream string) string {
	return b.prefix + ".stream." + strings.ReplaceAll(stream, ":", ".")
}

// ensureStream creates the JetStream stream backing a logical stream once.
func (b *Bus) ensureStream(stream string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams[stream] {
		return nil
	}
	name := b.streamName(stream)
	_, err := b.js.StreamInfo(name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = b.js.AddStream(&nats.StreamConfig{
			Name:     name,
			Subjects: []string{b.streamSubject(stream)},
			MaxMsgs:  b.maxLen,
			Discard:  nats.DiscardOld,
		})
	}
	if err != nil {
		return fmt.Errorf("nats: ensure stream %s: %w", name, err)
	}
	b.streams[stream] = true
	return nil
}

func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := b.ensureStream(stream); err != nil {
		return err
	}
	if _, err := b.js.Publish(b.streamSubject(stream), payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count messages with a sequence greater than
// lastID. "$" returns nothing; "0" starts at the beginning.
func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		return nil, nil
	}
	if err := b.ensureStream(stream); err != nil {
		return nil, err
	}
	after, err := strconv.ParseUint(strings.SplitN(lastID, "-", 2)[0], 10, 64)
	if err != nil {
		after = 0
	}

	name := b.streamName(stream)
	info, err := b.js.StreamInfo(name, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("nats: stream info %s: %w", name, err)
	}
	seq := after + 1
	if seq < info.State.FirstSeq {
		seq = info.State.FirstSeq
	}

	var out []domain.StreamMessage
	for ; seq <= info.State.LastSeq; seq++ {
		if count > 0 && len(out) >= count {
			break
		}
		raw, err := b.js.GetMsg(name, seq, nats.Context(ctx))
		if errors.Is(err, nats.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("nats: stream read %s seq %d: %w", name, seq, err)
		}
		out = append(out, domain.StreamMessage{
			ID:      strconv.FormatUint(raw.Sequence, 10),
			Payload: raw.Data,
		})
	}
	return out, nil
}

var _ domain.SignalBus = (*Bus)(nil)
