package ports

import (
	"context"

	"github.com/MENT2022/studio/internal/domain"
)

// ReadingStore is the persistence layer: append on ingest, query for history views.
type ReadingStore interface {
	AppendReading(ctx context.Context, r domain.Reading) error
	QueryReadings(ctx context.Context, q domain.ReadingQuery) ([]domain.Sample, error)
	Name() string
}

// ReadingSink accepts readings without waiting for them to be stored.
type ReadingSink interface {
	Submit(r domain.Reading)
}
