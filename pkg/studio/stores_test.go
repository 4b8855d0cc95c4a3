package studio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackStore(t *testing.T) {
	var received []Reading
	store := NewCallbackStore("cb", func(_ context.Context, r Reading) error {
		received = append(received, r)
		return nil
	})

	input := Reading{
		SessionID:  "s-1",
		Topic:      "plant/line1",
		SourceID:   "sensor-1",
		CapturedAt: time.Unix(1, 0),
		Fields:     []Field{{Name: "value", Value: 3.14}},
		Payload:    []byte("3.14"),
	}

	if err := store.AppendReading(context.Background(), input); err != nil {
		t.Fatalf("AppendReading returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(received))
	}
	got := received[0]
	if got.SourceID != input.SourceID || got.SessionID != input.SessionID {
		t.Fatalf("mismatched reading: %+v vs %+v", got, input)
	}

	input.Fields[0].Value = 0
	if got.Fields[0].Value != 3.14 {
		t.Fatalf("expected fields to be copied, got %v", got.Fields[0].Value)
	}
	if store.Name() != "cb" {
		t.Fatalf("unexpected name %q", store.Name())
	}
	if _, err := store.QueryReadings(context.Background(), ReadingQuery{}); !errors.Is(err, ErrQueryUnsupported) {
		t.Fatalf("expected ErrQueryUnsupported, got %v", err)
	}
}

func TestNewCallbackStoreNilHandler(t *testing.T) {
	store := NewCallbackStore("", nil)
	if err := store.AppendReading(context.Background(), Reading{SourceID: "s"}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
	if store.Name() != "callback" {
		t.Fatalf("expected default name, got %q", store.Name())
	}
}

func TestNewChannelStore(t *testing.T) {
	store, ch, closeFn := NewChannelStore("chan", 1)
	defer closeFn()

	input := Reading{SourceID: "sensor-2", Topic: "t"}
	errCh := make(chan error, 1)

	go func() {
		errCh <- store.AppendReading(context.Background(), input)
	}()

	var got Reading
	select {
	case got = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel reading")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("AppendReading returned error: %v", err)
	}
	if got.SourceID != input.SourceID {
		t.Fatalf("unexpected reading: %+v", got)
	}

	closeFn()
	if err := store.AppendReading(context.Background(), input); !errors.Is(err, ErrChannelStoreClosed) {
		t.Fatalf("expected ErrChannelStoreClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestChannelStoreHonoursContext(t *testing.T) {
	store, _, closeFn := NewChannelStore("", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := store.AppendReading(ctx, Reading{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestChannelStoreCloseUnblocksWriter(t *testing.T) {
	store, _, closeFn := NewChannelStore("", 0)

	errCh := make(chan error, 1)
	go func() {
		errCh <- store.AppendReading(context.Background(), Reading{})
	}()

	time.Sleep(10 * time.Millisecond)
	closeFn()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelStoreClosed) {
			t.Fatalf("expected ErrChannelStoreClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer still blocked after close")
	}
}
