package pipeline

import (
	"context"
	"time"

	"github.com/MENT2022/studio/internal/ports"
)

// Run drains the queue until ctx is cancelled, then flushes what is left and
// returns nil. Store failures are logged and reported, never retried.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.obs.LogInfo("persist_worker_started", ports.Field{Key: "store", Value: d.store.Name()})
	for {
		if batch := d.q.DequeueBatch(d.pol.MaxBatchSize); len(batch) > 0 {
			d.appendBatch(ctx, batch)
			continue
		}

		select {
		case <-ctx.Done():
			d.flush(context.WithoutCancel(ctx))
			d.obs.LogInfo("persist_worker_stopped", ports.Field{Key: "store", Value: d.store.Name()})
			return nil
		case <-d.wake:
		case <-time.After(d.pol.IdleSleep):
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	for {
		batch := d.q.DequeueBatch(d.pol.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		d.appendBatch(ctx, batch)
	}
}

func (d *Dispatcher) appendBatch(ctx context.Context, batch []ports.QueuedReading) {
	var stored float64
	for _, item := range batch {
		actx, cancel := context.WithTimeout(ctx, d.pol.AppendTimeout)
		start := time.Now()
		err := d.store.AppendReading(actx, item.Reading)
		cancel()

		if err != nil {
			d.obs.IncCounter("studio_readings_failed_total", 1)
			d.obs.LogError("persist_append_failed", err,
				ports.Field{Key: "seq", Value: item.Seq},
				ports.Field{Key: "store", Value: d.store.Name()},
				ports.Field{Key: "source_id", Value: item.Reading.SourceID},
			)
			if d.observer != nil {
				d.observer.PersistenceFailed(item.Reading, err)
			}
			continue
		}
		d.obs.ObserveLatency("studio_persist_latency_seconds", time.Since(start).Seconds())
		stored++
	}
	if stored > 0 {
		d.obs.IncCounter("studio_readings_persisted_total", stored)
	}
	d.obs.SetGauge("studio_persist_queue_length", float64(d.q.Len()))
}
