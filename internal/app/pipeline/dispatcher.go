// Package pipeline moves readings from the ingestion path to the reading store
// without ever making ingestion wait on storage.
package pipeline

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

var ErrDispatcherFull = errors.New("persistence queue full")

const (
	defaultIdleSleep     = 50 * time.Millisecond
	defaultAppendTimeout = 5 * time.Second
	defaultBatchSize     = 64
)

// Dispatcher is the fire-and-forget persistence sink. Submit enqueues, Run
// drains the queue into the store.
type Dispatcher struct {
	q        ports.ReadingQueue
	store    ports.ReadingStore
	pol      ports.Policy
	obs      ports.Observability
	observer ports.Observer

	seq  atomic.Uint64
	wake chan struct{}
}

type Option func(*Dispatcher)

// WithObserver reports every failed append to o.
func WithObserver(o ports.Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func NewDispatcher(q ports.ReadingQueue, store ports.ReadingStore, pol ports.Policy, obs ports.Observability, opts ...Option) *Dispatcher {
	if pol.IdleSleep <= 0 {
		pol.IdleSleep = defaultIdleSleep
	}
	if pol.AppendTimeout <= 0 {
		pol.AppendTimeout = defaultAppendTimeout
	}
	if pol.MaxBatchSize <= 0 {
		pol.MaxBatchSize = defaultBatchSize
	}
	d := &Dispatcher{
		q:     q,
		store: store,
		pol:   pol,
		obs:   obs,
		wake:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Submit(r domain.Reading) {
	_ = d.TrySubmit(r)
}

// TrySubmit is Submit with the drop reported to the caller.
func (d *Dispatcher) TrySubmit(r domain.Reading) error {
	seq := d.seq.Add(1)
	if !d.q.Enqueue(seq, r) {
		d.obs.IncCounter("studio_readings_dropped_total", 1)
		d.obs.LogError("persist_queue_full", ErrDispatcherFull,
			ports.Field{Key: "seq", Value: seq},
			ports.Field{Key: "source_id", Value: r.SourceID},
		)
		return ErrDispatcherFull
	}
	d.obs.SetGauge("studio_persist_queue_length", float64(d.q.Len()))

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending is the number of readings not yet handed to the store.
func (d *Dispatcher) Pending() int { return d.q.Len() }

var _ ports.ReadingSink = (*Dispatcher)(nil)
