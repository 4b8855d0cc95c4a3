package studio

import (
	"github.com/MENT2022/studio/internal/app/session"
	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

// Sample is one normalized set of named values from one source.
type Sample = domain.Sample

// Field is a named numeric channel of a Sample.
type Field = domain.Field

// Reading is what the reading store receives for every inbound message.
type Reading = domain.Reading

// ReadingQuery selects stored readings for history views.
type ReadingQuery = domain.ReadingQuery

// Status is the connection status of the active session.
type Status = domain.Status

const (
	StatusDisconnected = domain.StatusDisconnected
	StatusConnecting   = domain.StatusConnecting
	StatusConnected    = domain.StatusConnected
	StatusError        = domain.StatusError
)

// ConnectParams describes a broker connection and the filter to subscribe to.
type ConnectParams = session.Params

// OpenParams is the transport side of ConnectParams.
type OpenParams = ports.OpenParams

// Credentials are passed to the broker untouched.
type Credentials = ports.Credentials

// Transport opens broker sessions; the default is the Paho MQTT client.
type Transport = ports.Transport

// SessionHandle is a live transport session.
type SessionHandle = ports.SessionHandle

// Event is one transport signal.
type Event = ports.Event

// ReadingStore persists readings and serves history queries.
type ReadingStore = ports.ReadingStore

// Observer is notified of status changes, accepted samples and failed appends.
type Observer = ports.Observer

// Observability emits logs and metrics about ingestion and persistence.
type Observability = ports.Observability

// LogField is a structured log field used by Observability implementations.
type LogField = ports.Field

var (
	// ErrNotReady is returned by Connect and Disconnect before Run has started.
	ErrNotReady = session.ErrNotReady
	// ErrInvalidParams wraps connect parameter problems.
	ErrInvalidParams = session.ErrInvalidParams
	// ErrSubscriptionRejected is reported when the broker nacks the filter.
	ErrSubscriptionRejected = ports.ErrSubscriptionRejected
)
