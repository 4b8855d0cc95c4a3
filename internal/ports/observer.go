package ports

import "github.com/MENT2022/studio/internal/domain"

// Observer is notified of externally visible state changes. Implementations
// must return quickly; they are called from the session event loop.
type Observer interface {
	StatusChanged(status domain.Status, sessionID string)
	SampleAccepted(s domain.Sample, seq uint64)
	PersistenceFailed(r domain.Reading, err error)
}
