package ports

import "github.com/MENT2022/studio/internal/domain"

// QueuedReading is a reading waiting in the persistence queue.
type QueuedReading struct {
	Seq     uint64
	Reading domain.Reading
}

type ReadingQueue interface {
	Enqueue(seq uint64, r domain.Reading) bool
	DequeueBatch(max int) []QueuedReading
	Len() int
}
