// Package mqtt implements the broker transport on top of the Eclipse Paho client.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MENT2022/studio/internal/ports"
)

var ErrConnectTimeout = errors.New("mqtt: connect timed out")

const (
	subackFailure   = 0x80
	gracefulQuiesce = 250 // ms
)

var schemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

// Transport opens Paho client sessions. Reconnection after an established
// connection is left to Paho's auto-reconnect.
type Transport struct {
	obs ports.Observability
}

func NewTransport(obs ports.Observability) *Transport {
	return &Transport{obs: obs}
}

func (t *Transport) Open(p ports.OpenParams, emit ports.EmitFunc) (ports.SessionHandle, error) {
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", p.Endpoint, err)
	}
	if !schemes[u.Scheme] || u.Host == "" {
		return nil, fmt.Errorf("unsupported endpoint %q", p.Endpoint)
	}

	s := &session{emitFn: emit, obs: t.obs, endpoint: p.Endpoint}

	opts := paho.NewClientOptions().
		AddBroker(p.Endpoint).
		SetClientID(p.ClientID).
		SetUsername(p.Credentials.Username).
		SetPassword(p.Credentials.Password).
		SetKeepAlive(p.KeepAlive).
		SetConnectTimeout(p.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost).
		SetReconnectingHandler(s.onReconnecting).
		SetDefaultPublishHandler(s.onMessage)

	if p.ReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(p.ReconnectInterval)
	}

	s.client = paho.NewClient(opts)
	go s.connect(p.ConnectTimeout)
	return s, nil
}

// session adapts one Paho client to ports.SessionHandle. All events go
// through emit, which stops forwarding once the session has finished.
type session struct {
	client   paho.Client
	emitFn   ports.EmitFunc
	obs      ports.Observability
	endpoint string

	mu       sync.Mutex // serialises emits against finish
	finished bool
}

func (s *session) emit(ev ports.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.emitFn(ev)
	return true
}

// finish emits the terminal Closed event once and silences the session.
func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.emitFn(ports.Event{Kind: ports.EventClosed})
	s.finished = true
}

func (s *session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *session) connect(timeout time.Duration) {
	tok := s.client.Connect()
	if timeout > 0 && !tok.WaitTimeout(timeout) {
		s.fail(fmt.Errorf("%w after %s", ErrConnectTimeout, timeout))
		return
	}
	tok.Wait()
	if err := tok.Error(); err != nil {
		s.fail(err)
	}
}

func (s *session) fail(err error) {
	s.obs.LogError("mqtt_connect_failed", err, ports.Field{Key: "endpoint", Value: s.endpoint})
	s.emit(ports.Event{Kind: ports.EventFatalError, Err: err})
	s.finish()
	s.client.Disconnect(0)
}

func (s *session) onConnect(c paho.Client) {
	if s.isFinished() {
		// a connect that completed after the session was given up on
		c.Disconnect(0)
		return
	}
	s.emit(ports.Event{Kind: ports.EventEstablished})
}

func (s *session) onConnectionLost(_ paho.Client, err error) {
	s.obs.LogError("mqtt_connection_lost", err, ports.Field{Key: "endpoint", Value: s.endpoint})
	s.emit(ports.Event{Kind: ports.EventOffline})
	s.emit(ports.Event{Kind: ports.EventClosed})
}

func (s *session) onReconnecting(paho.Client, *paho.ClientOptions) {
	s.emit(ports.Event{Kind: ports.EventReconnecting})
}

func (s *session) onMessage(_ paho.Client, msg paho.Message) {
	s.emit(ports.Event{Kind: ports.EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
}

func (s *session) Subscribe(ctx context.Context, filter string, qos byte) error {
	tok := s.client.Subscribe(filter, qos, s.onMessage)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("subscribe %s: %w", filter, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	if st, ok := tok.(*paho.SubscribeToken); ok {
		for topic, code := range st.Result() {
			if code == subackFailure {
				return fmt.Errorf("%w: %s", ports.ErrSubscriptionRejected, topic)
			}
		}
	}
	return nil
}

// Close disconnects and emits Closed. force skips the quiesce period.
func (s *session) Close(force bool) {
	var quiesce uint = gracefulQuiesce
	if force {
		quiesce = 0
	}
	// also stops a pending auto-reconnect
	s.client.Disconnect(quiesce)
	s.finish()
}

var (
	_ ports.Transport     = (*Transport)(nil)
	_ ports.SessionHandle = (*session)(nil)
)
