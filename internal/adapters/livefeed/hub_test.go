package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MENT2022/studio/internal/domain"
)

type fixedSource struct {
	samples []domain.Sample
	through uint64
}

func (fixedSource) Status() domain.Status { return domain.StatusConnected }
func (fixedSource) SessionID() string     { return "sess-1" }
func (f fixedSource) SnapshotSeq() ([]domain.Sample, uint64) {
	return f.samples, f.through
}

type frame struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func startHub(t *testing.T, src Source) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(nil)
	if src != nil {
		hub.SetSource(src)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, time.Millisecond)
	return hub, conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubSendsInitialState(t *testing.T) {
	src := fixedSource{samples: []domain.Sample{{SourceID: "D1", Fields: []domain.Field{{Name: "a", Value: 1}}}}}
	_, conn := startHub(t, src)

	status := read(t, conn)
	assert.Equal(t, TypeStatus, status.Type)
	assert.JSONEq(t, `{"status":"connected","session_id":"sess-1"}`, string(status.Payload))

	snap := read(t, conn)
	assert.Equal(t, TypeSnapshot, snap.Type)
	var samples []domain.Sample
	require.NoError(t, json.Unmarshal(snap.Payload, &samples))
	require.Len(t, samples, 1)
	assert.Equal(t, "D1", samples[0].SourceID)
}

func TestHubBroadcastsObserverEvents(t *testing.T) {
	hub, conn := startHub(t, nil)

	hub.StatusChanged(domain.StatusConnecting, "sess-2")
	hub.SampleAccepted(domain.Sample{SourceID: "D2", Fields: []domain.Field{{Name: "value", Value: 4}}}, 1)
	hub.PersistenceFailed(domain.Reading{SourceID: "D2"}, errors.New("db down"))

	status := read(t, conn)
	assert.Equal(t, TypeStatus, status.Type)
	assert.JSONEq(t, `{"status":"connecting","session_id":"sess-2"}`, string(status.Payload))

	sample := read(t, conn)
	assert.Equal(t, TypeSample, sample.Type)
	assert.Contains(t, string(sample.Payload), `"source_id":"D2"`)
	assert.EqualValues(t, 1, sample.Seq)

	failure := read(t, conn)
	assert.Equal(t, TypePersistError, failure.Type)
	assert.Contains(t, string(failure.Payload), `"error":"db down"`)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.SampleAccepted(domain.Sample{}, uint64(i+1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without a running hub")
	}
	assert.EqualValues(t, broadcastBuffer, hub.Dropped())
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, conn := startHub(t, nil)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, time.Millisecond)
}

func TestHubSkipsSamplesCoveredBySnapshot(t *testing.T) {
	src := fixedSource{
		samples: []domain.Sample{{SourceID: "D1"}, {SourceID: "D2"}},
		through: 2,
	}
	hub, conn := startHub(t, src)

	require.Equal(t, TypeStatus, read(t, conn).Type)
	snap := read(t, conn)
	require.Equal(t, TypeSnapshot, snap.Type)
	assert.EqualValues(t, 2, snap.Seq)

	// Broadcasts queued before the snapshot was taken arrive late.
	hub.SampleAccepted(domain.Sample{SourceID: "D1"}, 1)
	hub.SampleAccepted(domain.Sample{SourceID: "D2"}, 2)
	hub.SampleAccepted(domain.Sample{SourceID: "D3"}, 3)
	hub.StatusChanged(domain.StatusDisconnected, "")

	next := read(t, conn)
	assert.Equal(t, TypeSample, next.Type)
	assert.EqualValues(t, 3, next.Seq)
	assert.Contains(t, string(next.Payload), `"source_id":"D3"`)

	assert.Equal(t, TypeStatus, read(t, conn).Type)
}
