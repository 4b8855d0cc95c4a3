package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MENT2022/studio/internal/adapters/httpapi"
	"github.com/MENT2022/studio/internal/adapters/livefeed"
	"github.com/MENT2022/studio/internal/adapters/mqtt"
	"github.com/MENT2022/studio/internal/adapters/observability"
	"github.com/MENT2022/studio/internal/adapters/queue"
	"github.com/MENT2022/studio/internal/adapters/window"
	"github.com/MENT2022/studio/internal/app/normalize"
	"github.com/MENT2022/studio/internal/app/pipeline"
	"github.com/MENT2022/studio/internal/app/session"
	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

const (
	shutdownTimeout = 5 * time.Second
	gaugeInterval   = time.Second
	defaultQueueLen = 10_000
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	transport     Transport
	store         ReadingStore
	observability Observability
	observers     []Observer
	logger        *slog.Logger
	registry      *prometheus.Registry
}

// WithTransport replaces the Paho MQTT transport (simulators, replays, other brokers).
func WithTransport(tr Transport) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transport = tr
	}
}

// WithStore injects a reading store instead of the one named by persistence.backend.
func WithStore(s ReadingStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithObservability plugs in a custom logging and metrics backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithObserver registers an additional observer next to the live feed.
func WithObserver(obs Observer) RuntimeOption {
	return func(o *runtimeOverrides) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger sets the logger used by the runtime and its default adapters.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry registers metrics on reg and serves it on the metrics listener.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// Runtime wires transport → session → window/live feed and session → dispatcher
// → reading store, and serves the HTTP API and metrics next to them.
type Runtime struct {
	cfg        *Config
	log        *slog.Logger
	obs        ports.Observability
	registry   *prometheus.Registry
	window     *window.Ring
	queue      *queue.MemQueue
	machine    *session.Machine
	controller *session.Controller
	dispatcher *pipeline.Dispatcher
	hub        *livefeed.Hub
	store      ports.ReadingStore
	closer     io.Closer
	api        http.Handler
	metrics    http.Handler

	closeOnce sync.Once
	closeErr  error
}

// NewRuntime bootstraps the default adapters (Paho transport, ring window,
// configured reading store, Prometheus observability). RuntimeOption values
// override any of them.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := overrides.logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(reg, logger)
	}

	var (
		store  = overrides.store
		closer io.Closer
		err    error
	)
	if store == nil {
		store, closer, err = openStore(ctx, cfg.Persistence)
		if err != nil {
			return nil, err
		}
	}

	tr := overrides.transport
	if tr == nil {
		tr = mqtt.NewTransport(obs)
	}

	hub := livefeed.NewHub(logger)
	fanout := observers(append([]Observer{hub}, overrides.observers...))

	queueLen := cfg.Persistence.Policy.MaxQueueLen
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	q := queue.NewMemQueue(queueLen)
	disp := pipeline.NewDispatcher(q, store, cfg.Persistence.Policy, obs, pipeline.WithObserver(fanout))

	ring := window.NewRing(cfg.Window.Capacity)
	machine := session.NewMachine(tr, ring, normalize.New(cfg.Normalizer), obs,
		session.WithSink(disp),
		session.WithObserver(fanout),
		session.WithSubscribeTimeout(cfg.Broker.SubscribeTimeout),
	)
	hub.SetSource(machine)
	ctrl := session.NewController(machine, obs)

	rt := &Runtime{
		cfg:        cfg,
		log:        logger,
		obs:        obs,
		registry:   reg,
		window:     ring,
		queue:      q,
		machine:    machine,
		controller: ctrl,
		dispatcher: disp,
		hub:        hub,
		store:      store,
		closer:     closer,
	}
	rt.api = httpapi.NewRouter(httpapi.Deps{
		Controller: ctrl,
		State:      machine,
		Store:      store,
		Feed:       http.HandlerFunc(hub.ServeWS),
		Defaults:   cfg.Broker.Params(),
		Logger:     logger,
	})
	rt.metrics = rt.metricsHandler()
	return rt, nil
}

// Run starts the event loop, the persistence worker, the live feed and both
// HTTP listeners, and blocks until ctx is cancelled or a listener fails. On the
// way out it disconnects the session, flushes the persistence queue and
// closes the reading store.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}

	apiLn, err := net.Listen("tcp", r.cfg.API.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen api: %w", err), r.Close())
	}
	metricsLn, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		apiLn.Close()
		return errors.Join(fmt.Errorf("listen metrics: %w", err), r.Close())
	}
	apiSrv := &http.Server{Handler: r.api, ReadHeaderTimeout: 10 * time.Second}
	metricsSrv := &http.Server{Handler: r.metrics, ReadHeaderTimeout: 10 * time.Second}

	// The loops outlive ctx so the session can be closed and the queue flushed.
	loopCtx, stopLoops := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoops()
	machineCtx, stopMachine := context.WithCancel(loopCtx)
	defer stopMachine()

	var loops errgroup.Group
	loops.Go(func() error { return r.machine.Run(machineCtx) })
	loops.Go(func() error { return r.dispatcher.Run(loopCtx) })
	loops.Go(func() error { return r.hub.Run(loopCtx) })
	loops.Go(func() error {
		r.recordGauges(machineCtx, gaugeInterval)
		return nil
	})

	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "api_addr", Value: apiLn.Addr().String()},
		ports.Field{Key: "metrics_addr", Value: metricsLn.Addr().String()},
		ports.Field{Key: "store", Value: r.store.Name()},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiSrv, apiLn, "api") })
	g.Go(func() error { return serve(metricsSrv, metricsLn, "metrics") })
	if r.cfg.Broker.AutoConnect {
		g.Go(func() error {
			r.autoConnect(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := r.controller.RequestDisconnect(sctx); err != nil && !errors.Is(err, session.ErrNotReady) {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
		stopMachine()
		if err := apiSrv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown api: %w", err))
		}
		if err := metricsSrv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
		stopLoops()
		return errors.Join(errs...)
	})

	runErr := g.Wait()
	stopMachine()
	stopLoops()
	if err := loops.Wait(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	r.obs.LogInfo("runtime_stopped", ports.Field{Key: "pending", Value: r.dispatcher.Pending()})
	return errors.Join(runErr, r.Close())
}

// Close releases the reading store. Run calls it on the way out; call it
// directly only when Run is never started.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.closer != nil {
			r.closeErr = r.closer.Close()
		}
	})
	return r.closeErr
}

// Connect replaces the current session with one for p. See session.Controller.
func (r *Runtime) Connect(ctx context.Context, p ConnectParams) (string, error) {
	return r.controller.RequestConnect(ctx, p)
}

// Disconnect closes the current session and clears the window.
func (r *Runtime) Disconnect(ctx context.Context) error {
	return r.controller.RequestDisconnect(ctx)
}

func (r *Runtime) Status() Status      { return r.machine.Status() }
func (r *Runtime) SessionID() string   { return r.machine.SessionID() }
func (r *Runtime) LastTopic() string   { return r.machine.LastTopic() }
func (r *Runtime) Snapshot() []Sample  { return r.machine.Snapshot() }
func (r *Runtime) Store() ReadingStore { return r.store }

// Query reads persisted history from the reading store.
func (r *Runtime) Query(ctx context.Context, q ReadingQuery) ([]Sample, error) {
	return r.store.QueryReadings(ctx, q)
}

// Handler is the HTTP API, including the /ws live feed.
func (r *Runtime) Handler() http.Handler { return r.api }

// MetricsHandler serves /metrics and /healthz.
func (r *Runtime) MetricsHandler() http.Handler { return r.metrics }

func (r *Runtime) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (r *Runtime) autoConnect(ctx context.Context) {
	if err := r.machine.Sync(ctx); err != nil {
		return
	}
	id, err := r.controller.RequestConnect(ctx, r.cfg.Broker.Params())
	if err != nil {
		r.obs.LogError("auto_connect_failed", err, ports.Field{Key: "endpoint", Value: r.cfg.Broker.Endpoint})
		return
	}
	r.obs.LogInfo("auto_connect_started", ports.Field{Key: "session_id", Value: id})
}

func (r *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.obs.SetGauge("studio_persist_queue_length", float64(r.queue.Len()))
			r.obs.SetGauge("studio_window_length", float64(r.window.Len()))
		}
	}
}

func serve(srv *http.Server, ln net.Listener, name string) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// observers fans callbacks out to every registered observer in order.
type observers []Observer

func (o observers) StatusChanged(status domain.Status, sessionID string) {
	for _, obs := range o {
		obs.StatusChanged(status, sessionID)
	}
}

func (o observers) SampleAccepted(s domain.Sample, seq uint64) {
	for _, obs := range o {
		obs.SampleAccepted(s, seq)
	}
}

func (o observers) PersistenceFailed(rd domain.Reading, err error) {
	for _, obs := range o {
		obs.PersistenceFailed(rd, err)
	}
}
