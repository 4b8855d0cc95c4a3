package ports

import "github.com/MENT2022/studio/internal/domain"

// SampleWindow is the bounded, arrival-ordered buffer of recent samples.
type SampleWindow interface {
	// Push stores s and returns its sequence number. Sequence numbers start
	// at 1 and keep increasing across Clear.
	Push(s domain.Sample) uint64
	Snapshot() []domain.Sample
	// SnapshotSeq is Snapshot plus the sequence number of the last push it covers.
	SnapshotSeq() ([]domain.Sample, uint64)
	Clear()
	Len() int
	Cap() int
}
