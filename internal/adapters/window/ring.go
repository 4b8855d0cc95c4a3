package window

import (
	"sync"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

// DefaultCapacity is the number of samples kept for live display.
const DefaultCapacity = 200

// Ring is a fixed-capacity sample window that evicts the oldest entry on overflow.
// Storage is allocated once; pushes at capacity overwrite in place.
type Ring struct {
	mu      sync.RWMutex
	items   []domain.Sample
	head    int // next write position
	size    int
	evicted uint64
	pushed  uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{items: make([]domain.Sample, capacity)}
}

// Push appends s, dropping the oldest sample when the ring is full.
func (r *Ring) Push(s domain.Sample) uint64 {
	s = s.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pushed++
	r.items[r.head] = s
	r.head = (r.head + 1) % len(r.items)
	if r.size == len(r.items) {
		r.evicted++
		return r.pushed
	}
	r.size++
	return r.pushed
}

// Snapshot returns the retained samples oldest first. The result shares
// nothing with the ring.
func (r *Ring) Snapshot() []domain.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

// SnapshotSeq returns the snapshot together with the sequence number of the
// newest push it reflects, taken under one lock.
func (r *Ring) SnapshotSeq() ([]domain.Sample, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(), r.pushed
}

func (r *Ring) snapshot() []domain.Sample {
	out := make([]domain.Sample, r.size)
	start := r.tail()
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(start+i)%len(r.items)].Clone()
	}
	return out
}

func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		r.items[i] = domain.Sample{}
	}
	r.head = 0
	r.size = 0
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Ring) Cap() int { return len(r.items) }

// Evicted counts samples pushed out by overflow since creation.
func (r *Ring) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}

func (r *Ring) tail() int {
	return (r.head - r.size + len(r.items)) % len(r.items)
}

var _ ports.SampleWindow = (*Ring)(nil)
