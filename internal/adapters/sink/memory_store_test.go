package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MENT2022/studio/internal/domain"
)

func TestMemoryStoreBoundAndQuery(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()
	base := time.Unix(1000, 0)

	for i := 1; i <= 5; i++ {
		source := "D1"
		if i%2 == 0 {
			source = "D2"
		}
		if err := store.AppendReading(ctx, reading(source, base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.AppendReading(ctx, domain.Reading{SourceID: "D1", Payload: []byte("x")}); err != nil {
		t.Fatalf("append raw: %v", err)
	}

	if store.Len() != 3 {
		t.Fatalf("expected 3 retained samples, got %d", store.Len())
	}

	all, _ := store.QueryReadings(ctx, domain.ReadingQuery{})
	if got := values(all); len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected retained values %v", got)
	}

	d1, _ := store.QueryReadings(ctx, domain.ReadingQuery{SourceID: "D1", Limit: 1})
	if got := values(d1); len(got) != 1 || got[0] != 3 {
		t.Fatalf("unexpected D1 values %v", got)
	}

	ranged, _ := store.QueryReadings(ctx, domain.ReadingQuery{From: base.Add(4 * time.Second)})
	if got := values(ranged); len(got) != 2 || got[0] != 4 {
		t.Fatalf("unexpected ranged values %v", got)
	}
}

func TestMemoryStoreQueryIsDetached(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	_ = store.AppendReading(ctx, reading("D1", time.Now(), 1))

	got, _ := store.QueryReadings(ctx, domain.ReadingQuery{})
	got[0].Fields[0].Value = 99

	again, _ := store.QueryReadings(ctx, domain.ReadingQuery{})
	if again[0].Fields[0].Value != 1 {
		t.Fatalf("query result aliases store memory")
	}
}

func TestNopStore(t *testing.T) {
	var store NopStore
	if err := store.AppendReading(context.Background(), domain.Reading{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.QueryReadings(context.Background(), domain.ReadingQuery{}); !errors.Is(err, ErrQueryUnsupported) {
		t.Fatalf("expected ErrQueryUnsupported, got %v", err)
	}
}

func TestMemoryStoreWrapsInPlace(t *testing.T) {
	store := NewMemoryStore(4)
	ctx := context.Background()
	base := time.Unix(2000, 0)

	for i := 1; i <= 11; i++ {
		if err := store.AppendReading(ctx, reading("D1", base.Add(time.Duration(i)*time.Second), float64(i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if store.Len() != 4 {
		t.Fatalf("expected 4 retained samples, got %d", store.Len())
	}
	if store.head != 11%4 {
		t.Fatalf("expected head at %d, got %d", 11%4, store.head)
	}

	all, _ := store.QueryReadings(ctx, domain.ReadingQuery{})
	if got := values(all); len(got) != 4 || got[0] != 8 || got[1] != 9 || got[2] != 10 || got[3] != 11 {
		t.Fatalf("expected oldest-first [8 9 10 11], got %v", got)
	}

	limited, _ := store.QueryReadings(ctx, domain.ReadingQuery{Limit: 2})
	if got := values(limited); len(got) != 2 || got[0] != 8 || got[1] != 9 {
		t.Fatalf("expected [8 9], got %v", got)
	}
}
