package bus

import (
	"context"
	"errors"
	"path"
	"sync"

	"github.com/alanyoungcy/marketscanner/internal/domain"
)

// ErrClosed is returned by a MemoryBus after Close.
var ErrClosed = errors.New("bus: closed")

type subscriber struct {
	pattern string
	ch      chan []byte
}

// MemoryBus is an in-process domain.EventBus. Publish never blocks: a
// subscriber whose buffer is full misses the message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ domain.EventBus = (*MemoryBus)(nil)

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
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

// Subscribe registers a subscriber for channel, which may be a glob pattern.
// The returned channel is closed when ctx is cancelled or the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(s)
	}()
	return s.ch, nil
}

func (b *MemoryBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Close closes every subscriber channel. Later calls to Publish fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
