package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/L1ghtError/LimbWorker/api"
	"github.com/L1ghtError/LimbWorker/capability"
	"github.com/L1ghtError/LimbWorker/config"
	"github.com/L1ghtError/LimbWorker/dispatch"
	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/health"
	"github.com/L1ghtError/LimbWorker/metric"
	"github.com/L1ghtError/LimbWorker/natsclient"
	"github.com/L1ghtError/LimbWorker/natsproto"
	"github.com/L1ghtError/LimbWorker/pkg/worker"
	"github.com/L1ghtError/LimbWorker/processor"
	"github.com/L1ghtError/LimbWorker/storage"
	"github.com/L1ghtError/LimbWorker/transport"
)

// healthInterval is how often registered probes run.
const healthInterval = 10 * time.Second

// App owns every long-lived component of one worker process.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	instance string

	metrics *metric.MetricsRegistry
	monitor *health.Monitor

	control    ControlPlane
	store      storage.Store
	processors *processor.Registry
	backends   *dispatch.Backends
	caps       *capability.Registry
	pool       *worker.Pool
	conn       *transport.Conn
	client     *natsproto.Client
	topology   natsclient.Topology
	api        *api.Server

	dial         transport.DialFunc
	extraModules []processor.Module
	procOpts     []processor.Option

	// taskCtx outlives the run context so shutdown can drain in-flight tasks.
	taskCtx     context.Context
	cancelTasks context.CancelFunc

	closers []func(context.Context) error
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetricsRegistry shares an existing metrics registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(a *App) { a.metrics = registry }
}

// WithDialer replaces the broker dialer.
func WithDialer(dial transport.DialFunc) Option {
	return func(a *App) { a.dial = dial }
}

// WithControlPlane replaces the JetStream control connection.
func WithControlPlane(cp ControlPlane) Option {
	return func(a *App) { a.control = cp }
}

// WithStore replaces the store selected by storage.uri.
func WithStore(store storage.Store) Option {
	return func(a *App) { a.store = store }
}

// WithModules registers additional statically linked modules after the
// configured builtins.
func WithModules(modules ...processor.Module) Option {
	return func(a *App) { a.extraModules = append(a.extraModules, modules...) }
}

// WithProcessorOptions configures the processor registry.
func WithProcessorOptions(opts ...processor.Option) Option {
	return func(a *App) { a.procOpts = append(a.procOpts, opts...) }
}

// New builds the worker from cfg. Nothing touches the network until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "App", "New", "config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metric.NewMetricsRegistry()
	}
	a.instance = cfg.Broker.Name
	if a.instance == "" {
		a.instance = "limbworker-" + uuid.NewString()
	}
	a.logger = a.logger.With("instance", a.instance)
	a.monitor = health.NewMonitor(a.logger)
	a.caps = capability.NewRegistry()
	a.backends = dispatch.NewBackends()
	a.taskCtx, a.cancelTasks = context.WithCancel(context.Background())

	a.topology = natsclient.Topology{
		Stream:       cfg.Broker.Stream,
		Prefix:       cfg.Broker.SubjectPrefix,
		Channels:     dispatch.Channels(),
		DeliverGroup: cfg.Broker.DeliverGroup,
		Prefetch:     cfg.Broker.Prefetch,
		AckWait:      cfg.Broker.AckWait,
	}
	if err := a.topology.Validate(); err != nil {
		return nil, err
	}

	procOpts := append([]processor.Option{processor.WithLogger(a.logger)}, a.procOpts...)
	if cfg.Modules.RequireManifest {
		procOpts = append(procOpts, processor.WithProber(processor.ELFProber{RequireManifest: true}))
	}
	a.processors = processor.NewRegistry(procOpts...)

	var err error
	a.pool, err = worker.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize,
		worker.WithMetricsRegistry(a.metrics, "dispatch"),
		worker.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}

	if err := a.buildTransport(); err != nil {
		return nil, err
	}

	if cfg.HTTP.Enabled {
		a.api, err = api.New(cfg.HTTP.Addr, a.monitor, a.caps, a.processors, a.metrics, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create api server: %w", err)
		}
	}
	return a, nil
}

// buildTransport wires Conn, protocol client, dispatch handler and adapter.
// The handler's store is resolved lazily because it is opened in Run.
func (a *App) buildTransport() error {
	b := a.cfg.Broker
	tcfg := transport.DefaultConfig(b.Host, b.Port)
	tcfg.ConnectTimeout = b.ConnectTimeout
	tcfg.PollTimeout = b.PollTimeout
	tcfg.HeartbeatMax = b.HeartbeatMax

	var err error
	a.conn, err = transport.NewConn(tcfg,
		transport.WithLogger(a.logger),
		transport.WithDialer(a.dial),
		transport.WithMetrics(a.metrics))
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	policy, err := dispatch.ParseFailurePolicy(a.cfg.Dispatch.FailurePolicy)
	if err != nil {
		return err
	}
	core := a.metrics.CoreMetrics()

	// The protocol client and adapter reference each other through the
	// message callback, so the adapter is bound after the client exists.
	var adapter *dispatch.Adapter
	a.client = natsproto.NewClient(a.conn, a.conn, func(msg natsproto.Msg) {
		adapter.OnMessage(msg)
	}, natsproto.Options{
		Name:     a.instance,
		User:     b.User,
		Password: b.Password,
		Token:    b.Token,
		Logger:   a.logger,
	})
	a.conn.SetProtocol(a.client)

	handler := dispatch.NewHandler(a.client, lazyStore{a}, a.backends, a.caps,
		dispatch.WithFailurePolicy(policy),
		dispatch.WithProgressInterval(a.cfg.Dispatch.ProgressInterval),
		dispatch.WithMetrics(core),
		dispatch.WithLogger(a.logger))
	adapter = dispatch.NewAdapter(a.taskCtx, a.topology, a.pool, handler, a.client,
		dispatch.WithAdapterMetrics(core),
		dispatch.WithAdapterLogger(a.logger))
	return nil
}

// Run starts the worker and blocks until ctx is cancelled or the broker
// connection fails. A broker failure is returned so the process exits
// non-zero and the supervisor restarts it.
func (a *App) Run(ctx context.Context) (err error) {
	defer func() {
		if serr := a.shutdown(); serr != nil {
			err = stderrors.Join(err, serr)
		}
	}()

	if err := a.setup(ctx); err != nil {
		return err
	}

	if err := a.pool.Start(a.taskCtx); err != nil {
		return fmt.Errorf("start dispatch pool: %w", err)
	}
	for _, channel := range a.topology.Channels {
		if _, err := a.client.Subscribe(a.topology.DeliverSubject(channel), a.topology.DeliverGroup); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	a.metrics.CoreMetrics().BrokerConnected.Set(1)
	a.logger.Info("Worker ready",
		"broker", a.cfg.Broker.Address(),
		"processors", a.backends.Len(),
		"workers", a.cfg.Dispatch.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer a.metrics.CoreMetrics().BrokerConnected.Set(0)
		if err := a.conn.Run(gctx); err != nil {
			return fmt.Errorf("broker connection: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.monitor.Run(gctx, healthInterval)
		return nil
	})
	if a.api != nil {
		g.Go(func() error { return a.api.Start(gctx) })
	}
	return g.Wait()
}

// setup brings up everything that needs I/O before the broker subscription:
// the control plane, the media store and the processor backends.
func (a *App) setup(ctx context.Context) error {
	if a.control == nil {
		cp, err := connectControlPlane(ctx, a.cfg.Broker, a.metrics, a.controlPlaneChanged, a.logger)
		if err != nil {
			return err
		}
		a.control = cp
	}
	a.closers = append(a.closers, a.control.Close)

	if err := a.control.Provision(ctx, a.topology); err != nil {
		return fmt.Errorf("provision broker topology: %w", err)
	}

	if a.store == nil {
		store, err := openStore(ctx, a.cfg.Storage, a.control, a.metrics, a.logger)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	}

	if err := a.loadModules(ctx); err != nil {
		return err
	}
	if err := a.initBackends(ctx); err != nil {
		return err
	}

	if err := a.control.PublishCapabilities(ctx, a.instance, a.caps.Snapshot()); err != nil {
		// Capabilities stay queryable over GetAppInfo; the KV copy is advisory.
		a.logger.Warn("Publish capabilities failed", "error", err)
	} else {
		// Runs before the control plane closer.
		a.closers = append(a.closers, func(ctx context.Context) error {
			if err := a.control.WithdrawCapabilities(ctx, a.instance); err != nil {
				a.logger.Warn("Withdraw capabilities failed", "error", err)
			}
			return nil
		})
	}
	a.registerProbes()
	return nil
}

// shutdown stops intake, drains the pool within the configured timeout,
// then releases backends, the socket and the control plane in that order.
func (a *App) shutdown() error {
	a.conn.Stop()

	var errs []error
	if err := a.pool.Stop(a.cfg.Dispatch.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("drain dispatch pool: %w", err))
	}
	a.cancelTasks()

	if err := a.conn.Close(); err != nil {
		a.logger.Debug("Close broker socket", "error", err)
	}

	a.caps.Clear()
	for _, m := range a.processors.Modules() {
		a.backends.Remove(uint32(m.Index))
	}
	if err := a.processors.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close processors: %w", err))
	}
	a.metrics.CoreMetrics().Processors.Set(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	a.logger.Info("Worker stopped")
	return stderrors.Join(errs...)
}

// Capabilities returns the current capability snapshot.
func (a *App) Capabilities() capability.Snapshot { return a.caps.Snapshot() }

// Health returns the aggregated component health.
func (a *App) Health() health.Status { return a.monitor.AggregateHealth("limbworker") }

// lazyStore defers to the store opened during setup.
type lazyStore struct{ a *App }

func (s lazyStore) Get(ctx context.Context, id string) ([]byte, error) {
	if s.a.store == nil {
		return nil, errors.Newf(errors.KindUninitialized, "media store not open")
	}
	return s.a.store.Get(ctx, id)
}

func (s lazyStore) Put(ctx context.Context, id string, data []byte) error {
	if s.a.store == nil {
		return errors.Newf(errors.KindUninitialized, "media store not open")
	}
	return s.a.store.Put(ctx, id, data)
}

func (s lazyStore) Close() error { return nil }
