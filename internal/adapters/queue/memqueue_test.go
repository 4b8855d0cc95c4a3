package queue

import (
	"testing"

	"github.com/MENT2022/studio/internal/domain"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	r1 := domain.Reading{SourceID: "s1"}
	r2 := domain.Reading{SourceID: "s2"}

	if !q.Enqueue(1, r1) || !q.Enqueue(2, r2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].Seq != 1 || batch[0].Reading.SourceID != "s1" {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].Seq != 2 {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
	if got := q.DequeueBatch(1); got != nil {
		t.Fatalf("expected nil batch from empty queue, got %+v", got)
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	r := domain.Reading{SourceID: "cap"}

	if !q.Enqueue(1, r) || !q.Enqueue(2, r) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(3, r) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}

	q.DequeueBatch(1)
	if !q.Enqueue(4, r) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}

func TestMemQueueWrapsAround(t *testing.T) {
	q := NewMemQueue(3)

	var seq uint64
	for round := 0; round < 5; round++ {
		for i := 0; i < 2; i++ {
			seq++
			if !q.Enqueue(seq, domain.Reading{}) {
				t.Fatalf("round %d: enqueue %d rejected", round, seq)
			}
		}
		batch := q.DequeueBatch(0)
		if len(batch) != 2 || batch[0].Seq != seq-1 || batch[1].Seq != seq {
			t.Fatalf("round %d: unexpected batch %+v", round, batch)
		}
	}
}
