package studio

import (
	"context"
	"log/slog"

	base "github.com/MENT2022/studio/pkg/studio"
)

// Re-exported errors for convenience.
var (
	ErrNotReady             = base.ErrNotReady
	ErrInvalidParams        = base.ErrInvalidParams
	ErrSubscriptionRejected = base.ErrSubscriptionRejected
	ErrQueryUnsupported     = base.ErrQueryUnsupported
	ErrChannelStoreClosed   = base.ErrChannelStoreClosed
)

// Type aliases so consumers can import github.com/MENT2022/studio directly.
type (
	Config            = base.Config
	BrokerConfig      = base.BrokerConfig
	WindowConfig      = base.WindowConfig
	NormalizerConfig  = base.NormalizerConfig
	PersistenceConfig = base.PersistenceConfig
	Policy            = base.Policy
	TimescaleConfig   = base.TimescaleConfig
	RedisConfig       = base.RedisConfig
	MemoryConfig      = base.MemoryConfig
	APIConfig         = base.APIConfig
	MetricsConfig     = base.MetricsConfig
	LogConfig         = base.LogConfig
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Sample            = base.Sample
	Field             = base.Field
	Reading           = base.Reading
	ReadingQuery      = base.ReadingQuery
	ReadingHandler    = base.ReadingHandler
	Status            = base.Status
	ConnectParams     = base.ConnectParams
	OpenParams        = base.OpenParams
	Credentials       = base.Credentials
	Transport         = base.Transport
	SessionHandle     = base.SessionHandle
	Event             = base.Event
	ReadingStore      = base.ReadingStore
	Observer          = base.Observer
	Observability     = base.Observability
	LogField          = base.LogField
)

const (
	StatusDisconnected = base.StatusDisconnected
	StatusConnecting   = base.StatusConnecting
	StatusConnected    = base.StatusConnected
	StatusError        = base.StatusError
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInTransport(tr Transport) StreamInOption {
	return base.StreamInTransport(tr)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamInBroker(endpoint, topic string, qos byte) StreamInOption {
	return base.StreamInBroker(endpoint, topic, qos)
}

func StreamInCredentials(username, password string) StreamInOption {
	return base.StreamInCredentials(username, password)
}

func StreamInAutoConnect() StreamInOption { return base.StreamInAutoConnect() }

func StreamInNormalizer(nc NormalizerConfig) StreamInOption {
	return base.StreamInNormalizer(nc)
}

func StreamOutWindow(capacity int) StreamOutOption { return base.StreamOutWindow(capacity) }

func StreamOutStore(s ReadingStore) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutObserver(obs Observer) StreamOutOption {
	return base.StreamOutObserver(obs)
}

func StreamOutCallback(name string, fn ReadingHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(ctx, cfg, opts...)
}

func WithTransport(tr Transport) RuntimeOption {
	return base.WithTransport(tr)
}

func WithStore(s ReadingStore) RuntimeOption {
	return base.WithStore(s)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithObserver(obs Observer) RuntimeOption {
	return base.WithObserver(obs)
}

// Store adapters.
func NewCallbackStore(name string, fn ReadingHandler) ReadingStore {
	return base.NewCallbackStore(name, fn)
}

func NewChannelStore(name string, buffer int) (ReadingStore, <-chan Reading, func()) {
	return base.NewChannelStore(name, buffer)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}
