package queue

import (
	"sync"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of readings awaiting persistence.
// Enqueue never blocks: a full queue rejects the reading.
type MemQueue struct {
	mu   sync.Mutex
	data []ports.QueuedReading
	head int
	size int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{data: make([]ports.QueuedReading, capacity)}
}

func (q *MemQueue) Enqueue(seq uint64, r domain.Reading) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == len(q.data) {
		return false
	}
	q.data[(q.head+q.size)%len(q.data)] = ports.QueuedReading{Seq: seq, Reading: r}
	q.size++
	return true
}

// DequeueBatch removes up to max readings, oldest first. max <= 0 takes everything.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedReading {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]ports.QueuedReading, max)
	for i := range out {
		idx := (q.head + i) % len(q.data)
		out[i] = q.data[idx]
		q.data[idx] = ports.QueuedReading{}
	}
	q.head = (q.head + max) % len(q.data)
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *MemQueue) Cap() int { return len(q.data) }

var _ ports.ReadingQueue = (*MemQueue)(nil)
