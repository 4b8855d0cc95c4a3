package ports

import (
	"time"

	"github.com/MENT2022/studio/internal/domain"
)

// Normalizer turns a raw payload into zero or one sample. It never fails.
type Normalizer interface {
	Normalize(payload []byte, at time.Time) (domain.Sample, bool)
}
