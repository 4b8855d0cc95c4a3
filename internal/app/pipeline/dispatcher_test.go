package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MENT2022/studio/internal/adapters/queue"
	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

func TestDispatcherSubmitNeverBlocks(t *testing.T) {
	store := &mockStore{block: make(chan struct{})}
	defer close(store.block)
	obs := &mockObs{}
	d := NewDispatcher(queue.NewMemQueue(2), store, ports.Policy{}, obs)

	if err := d.TrySubmit(domain.Reading{SourceID: "a"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := d.TrySubmit(domain.Reading{SourceID: "b"}); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.TrySubmit(domain.Reading{SourceID: "c"}) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrDispatcherFull) {
			t.Fatalf("expected ErrDispatcherFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("submit blocked on a full queue")
	}
	if obs.counter("studio_readings_dropped_total") != 1 {
		t.Fatalf("expected one dropped reading, got %v", obs.counter("studio_readings_dropped_total"))
	}
}

func TestDispatcherRunAppendsInOrderAndFlushesOnCancel(t *testing.T) {
	store := &mockStore{}
	obs := &mockObs{}
	d := NewDispatcher(queue.NewMemQueue(16), store, ports.Policy{MaxBatchSize: 2, IdleSleep: time.Millisecond}, obs)

	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"a", "b", "c"} {
		d.Submit(domain.Reading{SourceID: id})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for store.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	d.Submit(domain.Reading{SourceID: "d"})
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run returned %v", err)
	}

	got := store.ids()
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if d.Pending() != 0 {
		t.Fatalf("expected empty queue after flush, got %d", d.Pending())
	}
}

func TestDispatcherReportsFailures(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	obs := &mockObs{}
	observer := &mockObserver{}
	d := NewDispatcher(queue.NewMemQueue(4), store, ports.Policy{}, obs, WithObserver(observer))

	d.Submit(domain.Reading{SourceID: "x"})
	d.flush(context.Background())

	if len(obs.errors) != 1 {
		t.Fatalf("expected one logged error, got %d", len(obs.errors))
	}
	if len(observer.failed) != 1 || observer.failed[0].SourceID != "x" {
		t.Fatalf("expected observer notification, got %+v", observer.failed)
	}
	if obs.counter("studio_readings_failed_total") != 1 {
		t.Fatalf("expected failed counter to be 1")
	}
}

func TestDispatcherAppendUsesTimeout(t *testing.T) {
	store := &mockStore{block: make(chan struct{})}
	defer close(store.block)
	obs := &mockObs{}
	d := NewDispatcher(queue.NewMemQueue(4), store, ports.Policy{AppendTimeout: 10 * time.Millisecond}, obs)

	d.Submit(domain.Reading{SourceID: "slow"})
	start := time.Now()
	d.flush(context.Background())

	if time.Since(start) > time.Second {
		t.Fatalf("append did not honour timeout")
	}
	if len(obs.errors) != 1 || !errors.Is(obs.errors[0], context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", obs.errors)
	}
}

type mockStore struct {
	mu    sync.Mutex
	got   []domain.Reading
	err   error
	block chan struct{}
}

func (m *mockStore) AppendReading(ctx context.Context, r domain.Reading) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.got = append(m.got, r)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) QueryReadings(context.Context, domain.ReadingQuery) ([]domain.Sample, error) {
	return nil, nil
}

func (m *mockStore) Name() string { return "mock" }

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func (m *mockStore) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.got))
	for i, r := range m.got {
		out[i] = r.SourceID
	}
	return out
}

type mockObserver struct {
	failed []domain.Reading
}

func (m *mockObserver) StatusChanged(domain.Status, string) {}
func (m *mockObserver) SampleAccepted(domain.Sample, uint64) {}
func (m *mockObserver) PersistenceFailed(r domain.Reading, _ error) {
	m.failed = append(m.failed, r)
}

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	m.errors = append(m.errors, err)
	m.mu.Unlock()
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
	m.mu.Unlock()
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
