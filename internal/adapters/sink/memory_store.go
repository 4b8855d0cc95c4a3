package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

// ErrQueryUnsupported is returned by stores that keep no history.
var ErrQueryUnsupported = errors.New("reading store does not support queries")

const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent normalized readings in process memory.
// Once full it overwrites the oldest entry in place; head is the oldest.
type MemoryStore struct {
	mu       sync.RWMutex
	samples  []domain.Sample
	head     int
	capacity int
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) AppendReading(_ context.Context, r domain.Reading) error {
	if len(r.Fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) < m.capacity {
		m.samples = append(m.samples, r.Sample())
		return nil
	}
	m.samples[m.head] = r.Sample()
	m.head = (m.head + 1) % m.capacity
	return nil
}

// QueryReadings returns matches in arrival order, which for a single
// session is capture order.
func (m *MemoryStore) QueryReadings(_ context.Context, q domain.ReadingQuery) ([]domain.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Sample
	for i := range m.samples {
		s := m.samples[(m.head+i)%len(m.samples)]
		if !q.Matches(s.SourceID, s.CapturedAt) {
			continue
		}
		out = append(out, s.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// NopStore discards readings.
type NopStore struct{}

func (NopStore) Name() string                                      { return "none" }
func (NopStore) AppendReading(context.Context, domain.Reading) error { return nil }
func (NopStore) QueryReadings(context.Context, domain.ReadingQuery) ([]domain.Sample, error) {
	return nil, ErrQueryUnsupported
}

var (
	_ ports.ReadingStore = (*MemoryStore)(nil)
	_ ports.ReadingStore = NopStore{}
)
