package ports

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionRejected is returned by SessionHandle.Subscribe when the broker
// acknowledges the subscription with a failure code.
var ErrSubscriptionRejected = errors.New("subscription rejected by broker")

// EventKind enumerates what a transport session can report.
type EventKind int

const (
	EventEstablished EventKind = iota + 1
	EventMessage
	EventFatalError
	EventClosed
	EventOffline
	EventReconnecting
)

func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "established"
	case EventMessage:
		return "message"
	case EventFatalError:
		return "fatal_error"
	case EventClosed:
		return "closed"
	case EventOffline:
		return "offline"
	case EventReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Event is one signal emitted by a SessionHandle. Topic and Payload are set for
// EventMessage, Err for EventFatalError.
type Event struct {
	Kind    EventKind
	Topic   string
	Payload []byte
	Err     error
}

// Credentials are passed through to the broker untouched.
type Credentials struct {
	Username string
	Password string
}

// OpenParams describes one broker connection attempt.
type OpenParams struct {
	Endpoint          string
	ClientID          string
	Credentials       Credentials
	KeepAlive         time.Duration
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
}

// EmitFunc receives session events in the order the transport observed them.
// Implementations may block; transports must not call it while holding locks
// that Subscribe or Close need.
type EmitFunc func(Event)

// Transport opens broker sessions. Open must not block on the network: the
// outcome of the attempt is reported through emit.
type Transport interface {
	Open(params OpenParams, emit EmitFunc) (SessionHandle, error)
}

// SessionHandle is the live side of an opened session.
type SessionHandle interface {
	// Subscribe blocks until the broker acknowledges the filter or ctx expires.
	Subscribe(ctx context.Context, filter string, qos byte) error
	// Close tears the session down and emits EventClosed once done. After Close
	// returns the handle emits nothing further.
	Close(force bool)
}
