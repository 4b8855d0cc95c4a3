// Package livefeed pushes status changes and accepted samples to websocket clients.
package livefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

const (
	TypeStatus       = "status"
	TypeSample       = "sample"
	TypeSnapshot     = "snapshot"
	TypePersistError = "persist_error"

	broadcastBuffer = 256
	sendBuffer      = 64
)

// Message is the envelope of every frame sent to clients. Sample frames
// carry the window sequence number of the sample; snapshot frames carry the
// sequence number of the newest sample they include. A client never receives
// a sample frame whose seq is covered by its snapshot.
type Message struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload any    `json:"payload"`
}

type StatusPayload struct {
	Status    domain.Status `json:"status"`
	SessionID string        `json:"session_id,omitempty"`
}

type PersistErrorPayload struct {
	SourceID   string    `json:"source_id"`
	CapturedAt time.Time `json:"captured_at"`
	Error      string    `json:"error"`
}

// Source is the observable session state sent to newly attached clients.
type Source interface {
	Status() domain.Status
	SessionID() string
	SnapshotSeq() ([]domain.Sample, uint64)
}

type outbound struct {
	data []byte
	seq  uint64
}

// Hub fans out messages to all attached clients. Observer callbacks never
// block: when the broadcast buffer is full the message is dropped.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	source   Source

	clients    map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	dropped atomic.Uint64
	count   atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetSource must be called before Run.
func (h *Hub) SetSource(src Source) { h.source = src }

// Clients is the number of attached clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Dropped counts broadcasts lost to a full buffer.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.count.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Debug("livefeed client registered", "remote", c.conn.RemoteAddr().String())
			h.sendInitial(c)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.count.Store(int64(len(h.clients)))
				h.log.Debug("livefeed client unregistered", "remote", c.conn.RemoteAddr().String())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if msg.seq != 0 && msg.seq <= c.through {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.log.Warn("livefeed client too slow, removing", "remote", c.conn.RemoteAddr().String())
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

func (h *Hub) sendInitial(c *Client) {
	if h.source == nil {
		return
	}
	samples, through := h.source.SnapshotSeq()
	c.through = through
	for _, m := range []Message{
		{Type: TypeStatus, Payload: StatusPayload{Status: h.source.Status(), SessionID: h.source.SessionID()}},
		{Type: TypeSnapshot, Seq: through, Payload: samples},
	} {
		data, err := json.Marshal(m)
		if err != nil {
			h.log.Error("livefeed marshal failed", "type", m.Type, "error", err)
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) publish(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.Error("livefeed marshal failed", "type", m.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{data: data, seq: m.Seq}:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) StatusChanged(status domain.Status, sessionID string) {
	h.publish(Message{Type: TypeStatus, Payload: StatusPayload{Status: status, SessionID: sessionID}})
}

func (h *Hub) SampleAccepted(s domain.Sample, seq uint64) {
	h.publish(Message{Type: TypeSample, Seq: seq, Payload: s})
}

func (h *Hub) PersistenceFailed(r domain.Reading, err error) {
	h.publish(Message{Type: TypePersistError, Payload: PersistErrorPayload{
		SourceID:   r.SourceID,
		CapturedAt: r.CapturedAt,
		Error:      err.Error(),
	}})
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("livefeed upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

var _ ports.Observer = (*Hub)(nil)
