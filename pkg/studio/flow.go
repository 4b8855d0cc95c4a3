package studio

import (
	"context"
	"errors"
	"fmt"
)

// Flow builds a Runtime in three steps: load the configuration, describe the
// broker side with StreamIN, then pick where readings go with StreamOUT.
// Overrides edit the Config in place and are validated when StreamOUT builds
// the runtime.
type Flow struct {
	cfg  *Config
	opts []RuntimeOption
	errs []error
}

// FlowOption adjusts a Flow right after its configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption shapes the ingestion side: broker, topic, credentials,
// normalizer and transport.
type StreamInOption func(*Flow)

// StreamOutOption shapes the output side: live window, reading store and observers.
type StreamOutOption func(*Flow)

// Conf reads a YAML configuration file and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from a Config built in code.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	apply(f, opts)
	return f, nil
}

// Config is the configuration the runtime will be built from, overrides included.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options adds runtime options that have no dedicated builder step.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.appendOptions(opts...)
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	apply(f, opts)
	return f
}

// StreamOUT applies the output options, checks every override made so far
// and builds the Runtime. The runtime is not started.
func (f *Flow) StreamOUT(ctx context.Context, opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	apply(f, opts)
	if err := f.check(); err != nil {
		return nil, err
	}
	return NewRuntime(ctx, f.cfg, f.opts...)
}

// Run builds the runtime and blocks in Runtime.Run until ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(ctx, opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func (f *Flow) check() error {
	errs := append([]error(nil), f.errs...)
	if err := f.cfg.Broker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("broker: %w", err))
	}
	return errors.Join(errs...)
}

func (f *Flow) fail(err error) {
	f.errs = append(f.errs, err)
}

func (f *Flow) appendOptions(opts ...RuntimeOption) {
	for _, opt := range opts {
		if opt != nil {
			f.opts = append(f.opts, opt)
		}
	}
}

func apply[O ~func(*Flow)](f *Flow, opts []O) {
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) { f.appendOptions(opts...) }
}

// StreamInBroker points the default connection at endpoint and subscribes
// to topic with the given QoS.
func StreamInBroker(endpoint, topic string, qos byte) StreamInOption {
	return func(f *Flow) {
		if endpoint == "" || topic == "" {
			f.fail(errors.New("broker endpoint and topic are required"))
			return
		}
		f.cfg.Broker.Endpoint = endpoint
		f.cfg.Broker.Topic = topic
		f.cfg.Broker.QoS = qos
	}
}

func StreamInCredentials(username, password string) StreamInOption {
	return func(f *Flow) {
		f.cfg.Broker.Username = username
		f.cfg.Broker.Password = password
	}
}

// StreamInAutoConnect opens the default connection as soon as the runtime runs.
func StreamInAutoConnect() StreamInOption {
	return func(f *Flow) { f.cfg.Broker.AutoConnect = true }
}

// StreamInNormalizer replaces the payload keys used to find the source id
// and the field map.
func StreamInNormalizer(nc NormalizerConfig) StreamInOption {
	return func(f *Flow) { f.cfg.Normalizer = nc }
}

// StreamInTransport swaps the MQTT client, e.g. for a simulator.
func StreamInTransport(tr Transport) StreamInOption {
	return func(f *Flow) {
		if tr != nil {
			f.appendOptions(WithTransport(tr))
		}
	}
}

func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.appendOptions(WithObservability(obs))
		}
	}
}

// StreamOutWindow sizes the live sample window.
func StreamOutWindow(capacity int) StreamOutOption {
	return func(f *Flow) {
		if capacity <= 0 {
			f.fail(fmt.Errorf("window capacity must be positive, got %d", capacity))
			return
		}
		f.cfg.Window.Capacity = capacity
	}
}

// StreamOutStore sends readings to s instead of the configured backend.
func StreamOutStore(s ReadingStore) StreamOutOption {
	return func(f *Flow) {
		if s != nil {
			f.appendOptions(WithStore(s))
		}
	}
}

func StreamOutObserver(obs Observer) StreamOutOption {
	return func(f *Flow) {
		if obs != nil {
			f.appendOptions(WithObserver(obs))
		}
	}
}

// StreamOutCallback sends readings to fn.
func StreamOutCallback(name string, fn ReadingHandler) StreamOutOption {
	return func(f *Flow) { f.appendOptions(WithStore(NewCallbackStore(name, fn))) }
}
