package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MENT2022/studio/internal/adapters/sink"
	"github.com/MENT2022/studio/internal/domain"
)

// ErrChannelStoreClosed is returned when a channel store is written to after being closed.
var ErrChannelStoreClosed = errors.New("studio: channel store closed")

// ErrQueryUnsupported is returned by stores that only accept writes.
var ErrQueryUnsupported = sink.ErrQueryUnsupported

// ReadingHandler is invoked once per persisted reading.
type ReadingHandler func(ctx context.Context, r Reading) error

// NewCallbackStore adapts a ReadingHandler into a write-only ReadingStore so callers
// can plug arbitrary functions without defining structs.
func NewCallbackStore(name string, fn ReadingHandler) ReadingStore {
	if name == "" {
		name = "callback"
	}
	return &callbackStore{name: name, fn: fn}
}

// NewChannelStore exposes readings via a channel; it returns the store, the read-only
// channel, and a close function that the caller should invoke during shutdown.
// A full channel makes the persistence worker wait, bounded by the append timeout.
func NewChannelStore(name string, buffer int) (ReadingStore, <-chan Reading, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Reading, buffer)
	s := &channelStore{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackStore struct {
	name string
	fn   ReadingHandler
}

func (s *callbackStore) AppendReading(ctx context.Context, r domain.Reading) error {
	if s.fn == nil {
		return fmt.Errorf("callback store %q: nil handler", s.name)
	}
	return s.fn(ctx, cloneReading(r))
}

func (s *callbackStore) QueryReadings(context.Context, domain.ReadingQuery) ([]domain.Sample, error) {
	return nil, ErrQueryUnsupported
}

func (s *callbackStore) Name() string { return s.name }

type channelStore struct {
	name   string
	ch     chan Reading
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelStore) AppendReading(ctx context.Context, r domain.Reading) error {
	// Held for reading so close cannot close ch mid-send.
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelStoreClosed
	default:
	}

	select {
	case <-s.closed:
		return ErrChannelStoreClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.ch <- cloneReading(r):
		return nil
	}
}

func (s *channelStore) QueryReadings(context.Context, domain.ReadingQuery) ([]domain.Sample, error) {
	return nil, ErrQueryUnsupported
}

func (s *channelStore) Name() string { return s.name }

func (s *channelStore) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

func cloneReading(r domain.Reading) domain.Reading {
	r.Fields = domain.CopyFields(r.Fields)
	if r.Payload != nil {
		r.Payload = append([]byte(nil), r.Payload...)
	}
	return r
}
