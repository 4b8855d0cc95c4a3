// Package session owns the broker connection. A Machine runs a single event
// loop that applies transport events, connect requests and subscription
// results one at a time; a Controller serializes connect and disconnect
// requests on top of it.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

const (
	defaultSubscribeTimeout = 10 * time.Second
	inboxSize               = 256
)

// session is the state of one connection attempt. Only the event loop touches it.
type session struct {
	id     string
	gen    uint64
	params Params
	handle ports.SessionHandle

	manual           bool // user teardown in flight
	terminated       bool // subscription failed, force close in flight
	closing          bool
	pendingSubscribe bool // established before the handle was attached
	subAttempt       uint64
	hadError         bool

	opened chan error
	closed chan struct{}
}

type Machine struct {
	transport ports.Transport
	window    ports.SampleWindow
	norm      ports.Normalizer
	obs       ports.Observability
	sink      ports.ReadingSink
	observer  ports.Observer

	clock            func() time.Time
	subscribeTimeout time.Duration

	inbox   chan command
	done    chan struct{}
	running atomic.Bool

	// owned by the event loop
	status domain.Status
	sess   *session
	gen    uint64

	// read side
	statusV   atomic.Int32
	mu        sync.RWMutex
	sessionID string
	lastTopic string
}

type MachineOption func(*Machine)

// WithSink forwards every inbound message to s as a reading.
func WithSink(s ports.ReadingSink) MachineOption {
	return func(m *Machine) { m.sink = s }
}

func WithObserver(o ports.Observer) MachineOption {
	return func(m *Machine) { m.observer = o }
}

// WithClock replaces the capture timestamp source.
func WithClock(clock func() time.Time) MachineOption {
	return func(m *Machine) { m.clock = clock }
}

func WithSubscribeTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.subscribeTimeout = d
		}
	}
}

func NewMachine(tr ports.Transport, window ports.SampleWindow, norm ports.Normalizer, obs ports.Observability, opts ...MachineOption) *Machine {
	m := &Machine{
		transport:        tr,
		window:           window,
		norm:             norm,
		obs:              obs,
		clock:            func() time.Time { return time.Now().Truncate(time.Millisecond) },
		subscribeTimeout: defaultSubscribeTimeout,
		inbox:            make(chan command, inboxSize),
		done:             make(chan struct{}),
		status:           domain.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes commands until ctx is cancelled. It must be called exactly once.
func (m *Machine) Run(ctx context.Context) error {
	m.running.Store(true)
	defer func() {
		m.running.Store(false)
		close(m.done)
		if s := m.sess; s != nil && s.handle != nil && !s.closing {
			go s.handle.Close(true)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-m.inbox:
			cmd.apply(m)
		}
	}
}

// Ready reports whether connect requests can be served.
func (m *Machine) Ready() bool {
	return m.transport != nil && m.running.Load()
}

func (m *Machine) Status() domain.Status {
	return domain.Status(m.statusV.Load())
}

// Snapshot returns the current sample window, oldest first.
func (m *Machine) Snapshot() []domain.Sample {
	return m.window.Snapshot()
}

// SnapshotSeq returns the window and the sequence number of its newest push.
func (m *Machine) SnapshotSeq() ([]domain.Sample, uint64) {
	return m.window.SnapshotSeq()
}

func (m *Machine) WindowLen() int { return m.window.Len() }
func (m *Machine) WindowCap() int { return m.window.Cap() }

// SessionID is the id of the active session, or "" when there is none.
func (m *Machine) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// LastTopic is the topic of the most recent message, or the subscribed filter
// until the first message arrives.
func (m *Machine) LastTopic() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTopic
}

// Sync returns once every command posted before it has been applied.
func (m *Machine) Sync(ctx context.Context) error {
	reply := make(chan struct{})
	if err := m.post(ctx, cmdSync{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrNotReady
	}
}

func (m *Machine) post(ctx context.Context, cmd command) error {
	select {
	case m.inbox <- cmd:
		return nil
	case <-m.done:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitter tags transport events with the session generation so events from a
// superseded session are recognised and dropped.
func (m *Machine) emitter(gen uint64) ports.EmitFunc {
	return func(ev ports.Event) {
		_ = m.post(context.Background(), cmdEvent{gen: gen, ev: ev})
	}
}

// connect starts a new session and waits for the transport to accept the
// open request. The broker handshake itself is reported later as events.
// When ctx ends first the new session is abandoned, so a caller that gave
// up never leaves a session behind.
func (m *Machine) connect(ctx context.Context, p Params) (string, error) {
	opened := make(chan error, 1)
	startedCh := make(chan started, 1)
	if err := m.post(ctx, cmdConnect{params: p, opened: opened, started: startedCh}); err != nil {
		return "", err
	}

	// Once posted the command is applied, so wait for it regardless of ctx.
	var st started
	select {
	case st = <-startedCh:
	case <-m.done:
		return "", ErrNotReady
	}
	select {
	case err := <-opened:
		return st.id, err
	case <-ctx.Done():
		m.abandon(st.gen)
		return "", ctx.Err()
	case <-m.done:
		return st.id, ErrNotReady
	}
}

// teardown identifies the session a disconnect is waiting on.
type teardown struct {
	gen    uint64
	closed <-chan struct{}
}

// beginTeardown marks the active session as manually closed and starts a
// forced close. The returned channel is closed once the transport confirms;
// it is nil when there is no session.
func (m *Machine) beginTeardown(ctx context.Context) (teardown, error) {
	reply := make(chan teardown, 1)
	if err := m.post(ctx, cmdTeardown{reply: reply}); err != nil {
		return teardown{}, err
	}
	select {
	case td := <-reply:
		return td, nil
	case <-ctx.Done():
		return teardown{}, ctx.Err()
	case <-m.done:
		return teardown{}, ErrNotReady
	}
}

// abandon releases session gen without waiting for the transport. Its close
// keeps running in the background and whatever it reports later is stale.
func (m *Machine) abandon(gen uint64) {
	if gen == 0 {
		return
	}
	reply := make(chan struct{})
	if err := m.post(context.Background(), cmdAbandon{gen: gen, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-m.done:
	}
}

// settle forces the resting disconnected state after a teardown.
func (m *Machine) settle(ctx context.Context) error {
	reply := make(chan struct{})
	if err := m.post(ctx, cmdSettle{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrNotReady
	}
}

func (m *Machine) setStatus(to domain.Status) {
	from := m.status
	if from == to {
		return
	}
	m.status = to
	m.statusV.Store(int32(to))

	var sid string
	if m.sess != nil {
		sid = m.sess.id
	}
	m.obs.SetGauge("studio_connection_status", float64(to))
	m.obs.LogInfo("session_status_changed",
		ports.Field{Key: "from", Value: from.String()},
		ports.Field{Key: "to", Value: to.String()},
		ports.Field{Key: "session_id", Value: sid},
	)
	if m.observer != nil {
		m.observer.StatusChanged(to, sid)
	}
}

func (m *Machine) setSessionID(id string) {
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
}

func (m *Machine) setLastTopic(topic string) {
	m.mu.Lock()
	m.lastTopic = topic
	m.mu.Unlock()
}

// release drops the session; later events carrying its generation are stale.
func (m *Machine) release(s *session) {
	if m.sess != s {
		return
	}
	m.sess = nil
	m.setSessionID("")
	close(s.closed)
}

func (m *Machine) closeAsync(s *session, force bool) {
	if s.closing || s.handle == nil {
		return
	}
	s.closing = true
	h, gen := s.handle, s.gen
	go func() {
		h.Close(force)
		_ = m.post(context.Background(), cmdCloseReturned{gen: gen})
	}()
}

func (m *Machine) subscribe(s *session) {
	s.subAttempt++
	h, gen, attempt := s.handle, s.gen, s.subAttempt
	filter, qos := s.params.Topic, s.params.QoS
	timeout := m.subscribeTimeout

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := h.Subscribe(ctx, filter, qos)
		cancel()
		_ = m.post(context.Background(), cmdSubscribed{gen: gen, attempt: attempt, err: err})
	}()
}

// terminate handles a failed subscription: the session is unusable, so it
// goes to error and is force closed.
func (m *Machine) terminate(s *session, err error) {
	s.terminated = true
	s.hadError = true
	m.obs.LogError("subscription_failed", err,
		ports.Field{Key: "session_id", Value: s.id},
		ports.Field{Key: "topic", Value: s.params.Topic},
	)
	m.setStatus(domain.StatusError)
	m.closeAsync(s, true)
}

func (m *Machine) current(gen uint64) *session {
	if m.sess == nil || m.sess.gen != gen {
		return nil
	}
	return m.sess
}

func (m *Machine) stale(kind string, gen uint64) {
	m.obs.IncCounter("studio_stale_events_total", 1)
	m.obs.LogInfo("session_event_stale",
		ports.Field{Key: "kind", Value: kind},
		ports.Field{Key: "generation", Value: gen},
	)
}

type command interface {
	apply(m *Machine)
}

type cmdSync struct{ reply chan struct{} }

func (c cmdSync) apply(*Machine) { close(c.reply) }

type started struct {
	id  string
	gen uint64
}

type cmdConnect struct {
	params  Params
	opened  chan error
	started chan started
}

func (c cmdConnect) apply(m *Machine) {
	if old := m.sess; old != nil {
		// superseded without a teardown; make sure it stops emitting
		old.manual = true
		m.closeAsync(old, true)
		m.release(old)
	}

	m.gen++
	s := &session{
		id:     uuid.NewString(),
		gen:    m.gen,
		params: c.params,
		opened: c.opened,
		closed: make(chan struct{}),
	}
	m.sess = s
	m.setSessionID(s.id)
	m.setLastTopic(c.params.Topic)
	m.window.Clear()
	m.obs.SetGauge("studio_window_length", 0)
	m.setStatus(domain.StatusConnecting)
	c.started <- started{id: s.id, gen: s.gen}

	tr, emit, gen := m.transport, m.emitter(s.gen), s.gen
	open := c.params.OpenParams
	go func() {
		h, err := tr.Open(open, emit)
		if perr := m.post(context.Background(), cmdAttach{gen: gen, handle: h, err: err}); perr != nil && h != nil {
			h.Close(true)
		}
	}()
}

type cmdAttach struct {
	gen    uint64
	handle ports.SessionHandle
	err    error
}

func (c cmdAttach) apply(m *Machine) {
	s := m.current(c.gen)
	if s == nil {
		if c.handle != nil {
			go c.handle.Close(true)
		}
		return
	}

	if c.err != nil {
		m.obs.LogError("transport_open_failed", c.err, ports.Field{Key: "endpoint", Value: s.params.Endpoint})
		s.opened <- fmt.Errorf("open transport: %w", c.err)
		m.release(s)
		m.setStatus(domain.StatusDisconnected)
		return
	}

	s.handle = c.handle
	s.opened <- nil
	switch {
	case s.manual || s.terminated:
		m.closeAsync(s, true)
	case s.pendingSubscribe:
		s.pendingSubscribe = false
		m.subscribe(s)
	}
}

type cmdTeardown struct{ reply chan teardown }

func (c cmdTeardown) apply(m *Machine) {
	s := m.sess
	if s == nil {
		c.reply <- teardown{}
		return
	}
	s.manual = true
	m.closeAsync(s, true)
	c.reply <- teardown{gen: s.gen, closed: s.closed}
}

type cmdAbandon struct {
	gen   uint64
	reply chan struct{}
}

func (c cmdAbandon) apply(m *Machine) {
	defer close(c.reply)
	s := m.current(c.gen)
	if s == nil {
		return
	}
	s.manual = true
	m.closeAsync(s, true)
	m.release(s)
	m.setStatus(domain.StatusDisconnected)
	m.window.Clear()
	m.obs.SetGauge("studio_window_length", 0)
	m.obs.LogInfo("session_abandoned", ports.Field{Key: "session_id", Value: s.id})
}

type cmdCloseReturned struct{ gen uint64 }

func (c cmdCloseReturned) apply(m *Machine) {
	s := m.current(c.gen)
	if s == nil {
		return
	}
	m.release(s)
	if s.manual {
		m.setStatus(domain.StatusDisconnected)
	}
}

type cmdSettle struct{ reply chan struct{} }

func (c cmdSettle) apply(m *Machine) {
	if m.sess == nil {
		m.setStatus(domain.StatusDisconnected)
		m.window.Clear()
		m.obs.SetGauge("studio_window_length", 0)
	}
	close(c.reply)
}

type cmdSubscribed struct {
	gen     uint64
	attempt uint64
	err     error
}

func (c cmdSubscribed) apply(m *Machine) {
	s := m.current(c.gen)
	if s == nil || s.manual || s.terminated || c.attempt != s.subAttempt {
		return
	}
	if c.err != nil {
		m.terminate(s, c.err)
		return
	}
	m.obs.LogInfo("subscribed",
		ports.Field{Key: "session_id", Value: s.id},
		ports.Field{Key: "topic", Value: s.params.Topic},
		ports.Field{Key: "qos", Value: s.params.QoS},
	)
}

type cmdEvent struct {
	gen uint64
	ev  ports.Event
}

func (c cmdEvent) apply(m *Machine) {
	s := m.current(c.gen)
	if s == nil {
		m.stale(c.ev.Kind.String(), c.gen)
		return
	}
	if s.terminated {
		// only closure matters once the session is being torn down for a failed subscription
		if c.ev.Kind == ports.EventClosed {
			m.release(s)
		}
		return
	}

	switch c.ev.Kind {
	case ports.EventEstablished:
		m.onEstablished(s)
	case ports.EventMessage:
		m.onMessage(s, c.ev)
	case ports.EventFatalError:
		if s.manual {
			return
		}
		s.hadError = true
		m.obs.LogError("transport_fatal_error", c.ev.Err, ports.Field{Key: "session_id", Value: s.id})
		m.setStatus(domain.StatusError)
	case ports.EventClosed:
		m.onClosed(s)
	case ports.EventOffline:
		if !s.manual && m.status == domain.StatusConnected {
			m.setStatus(domain.StatusDisconnected)
		}
	case ports.EventReconnecting:
		if !s.manual {
			m.setStatus(domain.StatusConnecting)
		}
	}
}

func (m *Machine) onEstablished(s *session) {
	if s.manual || m.status == domain.StatusConnected {
		return
	}
	s.hadError = false
	m.setStatus(domain.StatusConnected)
	if s.handle == nil {
		s.pendingSubscribe = true
		return
	}
	m.subscribe(s)
}

func (m *Machine) onClosed(s *session) {
	if s.manual {
		m.release(s)
		m.setStatus(domain.StatusDisconnected)
		return
	}
	switch m.status {
	case domain.StatusConnected:
		m.setStatus(domain.StatusDisconnected)
	case domain.StatusConnecting:
		if !s.hadError {
			m.setStatus(domain.StatusError)
		}
	}
}

func (m *Machine) onMessage(s *session, ev ports.Event) {
	if s.manual || m.status != domain.StatusConnected {
		return
	}
	m.obs.IncCounter("studio_messages_received_total", 1)
	m.setLastTopic(ev.Topic)

	at := m.clock()
	sample, ok := m.norm.Normalize(ev.Payload, at)
	if ok {
		seq := m.window.Push(sample)
		m.obs.IncCounter("studio_samples_accepted_total", 1)
		m.obs.SetGauge("studio_window_length", float64(m.window.Len()))
		if m.observer != nil {
			m.observer.SampleAccepted(sample, seq)
		}
	} else {
		m.obs.IncCounter("studio_payloads_rejected_total", 1)
	}

	if m.sink != nil {
		m.sink.Submit(domain.Reading{
			SessionID:  s.id,
			Topic:      ev.Topic,
			SourceID:   sample.SourceID,
			Fields:     sample.Fields,
			CapturedAt: at,
			Payload:    ev.Payload,
		})
	}
}
