package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/transitboard/internal/runtime/config"
	decodepkg "github.com/drblury/transitboard/internal/runtime/decode"
	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
	gatepkg "github.com/drblury/transitboard/internal/runtime/gate"
	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
	serverpkg "github.com/drblury/transitboard/internal/runtime/server"
	"github.com/drblury/transitboard/internal/runtime/stream"
	"github.com/drblury/transitboard/internal/runtime/views"
	"github.com/drblury/transitboard/transport"
)

// State is the lifecycle position of a Service.
type State int32

const (
	StateUnstarted State = iota
	StateGating
	StateRunning
	StateShuttingDown
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateGating:
		return "gating"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults derived from the configuration.
type ServiceDependencies struct {
	// Source replaces the source built from Config.PubSubSystem.
	Source transport.Source
	// SchemaRegistry replaces the registry client built from
	// Config.SchemaRegistryURL for avro bindings.
	SchemaRegistry decodepkg.SchemaRegistry
	// Registerer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Hooks run for every record of every binding, after the built-in
	// metrics hooks.
	Hooks                     RecordHooks
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
}

// Service gates on upstream readiness, runs every binding on a Watermill
// router next to the status server and tears everything down on interrupt.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	source     transport.Source
	registry   decodepkg.SchemaRegistry
	registerer prometheus.Registerer
	router     *message.Router

	weather *views.Weather
	lines   *views.Lines

	// bindings and server exist only once the readiness gate has passed.
	mu       sync.RWMutex
	bindings []*Binding
	server   *serverpkg.Server

	recordsTotal *prometheus.CounterVec
	hooks        RecordHooks

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	adminServers  []*adminServer
	loadSampler   *loadSampler

	state     atomic.Int32
	started   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
}

type adminServer struct {
	server   *http.Server
	listener net.Listener
}

// NewService validates conf and wires the models, the source and the router.
// Bindings and the status server are built by Start once the readiness gate
// passes.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating transit board service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})
	wmLogger := loggingpkg.NewWatermillAdapter(log)

	s := &Service{
		Conf:       conf,
		Logger:     log,
		source:     deps.Source,
		registry:   deps.SchemaRegistry,
		registerer: deps.Registerer,
		weather:    views.NewWeather(),
		lines: views.NewLines(views.LinesTopics{
			Stations:         conf.Topics.StationsTransformed,
			ArrivalPrefix:    conf.Topics.ArrivalPrefix,
			TurnstileSummary: conf.Topics.TurnstileSummary,
		}),
		ready:       make(chan struct{}),
		loadSampler: newLoadSampler(),
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	s.hooks = MetricsHooks(s.countRecord).Merge(deps.Hooks)

	if s.source == nil {
		source, err := transport.Build(context.Background(), conf, wmLogger)
		if err != nil {
			return nil, err
		}
		s.source = source
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: time.Duration(conf.ShutdownTimeout),
	}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router

	s.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transitboard",
		Subsystem: "binding",
		Name:      "records_total",
		Help:      "Records handled per binding, by outcome.",
	}, []string{"binding", "outcome"})
	if err := s.registerMetrics(); err != nil {
		return nil, err
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	return s, nil
}

// build creates every binding and the status server.
func (s *Service) build() error {
	bindings, err := s.buildBindings()
	if err != nil {
		return err
	}
	server, err := serverpkg.New(s.Conf.HTTPAddress, s.weather, s.lines, s.Logger.With(loggingpkg.LogFields{"component": "server"}))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = bindings
	s.server = server
	return nil
}

func (s *Service) buildBindings() ([]*Binding, error) {
	var bindings []*Binding
	for _, conf := range s.Conf.EffectiveBindings() {
		processor, err := s.processorFor(conf.Model)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", conf.Name, err)
		}
		format, err := stream.ParseFormat(conf.Format)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", conf.Name, err)
		}
		var registry decodepkg.SchemaRegistry
		if format == stream.FormatAvro {
			registry = s.schemaRegistry()
		}
		decoder, err := decodepkg.New(format, registry)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", conf.Name, err)
		}
		binding, err := NewBinding(conf, decoder, processor, s.Logger)
		if err != nil {
			return nil, err
		}
		binding.SetHooks(s.hooks)
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func (s *Service) processorFor(model string) (stream.Processor, error) {
	switch model {
	case configpkg.ModelWeather:
		return s.weather, nil
	case configpkg.ModelLines:
		return s.lines, nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownModel, model)
	}
}

func (s *Service) schemaRegistry() decodepkg.SchemaRegistry {
	if s.registry == nil {
		s.registry = decodepkg.NewSchemaRegistry(s.Conf.SchemaRegistryURL)
	}
	return s.registry
}

func (s *Service) countRecord(binding, outcome string) {
	s.recordsTotal.WithLabelValues(binding, outcome).Inc()
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	s.Logger.Debug("Lifecycle transition", loggingpkg.LogFields{"from": prev.String(), "to": state.String()})
}

// Ready is closed once every binding is consuming and the status server is
// accepting connections.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound status server address, or "" before the server binds.
func (s *Service) Addr() string {
	server := s.statusServer()
	if server == nil {
		return ""
	}
	return server.Addr()
}

func (s *Service) statusServer() *serverpkg.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

// Weather exposes the weather model for read access.
func (s *Service) Weather() *views.Weather {
	return s.weather
}

// Lines exposes the lines model for read access.
func (s *Service) Lines() *views.Lines {
	return s.lines
}

// Bindings returns the bindings in configuration order. It is empty until
// the readiness gate has passed.
func (s *Service) Bindings() []*Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Binding, len(s.bindings))
	copy(out, s.bindings)
	return out
}

// Start checks readiness, builds and subscribes every binding, binds the
// listeners and runs until ctx is cancelled. A readiness failure returns
// before any binding or the status server is built. Cancelling ctx is the normal
// way to stop and yields a nil error.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyStarted
	}

	s.setState(StateGating)
	if err := gatepkg.Check(ctx, s.source, s.Logger, s.Conf.EffectiveRequirements()...); err != nil {
		s.fail("Readiness check failed", err)
		return err
	}

	if err := s.build(); err != nil {
		s.fail("Startup failed", err)
		return err
	}
	if err := s.prepare(ctx); err != nil {
		s.fail("Startup failed", err)
		return err
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return routerRun(s.router, runCtx)
	})
	g.Go(s.statusServer().Serve)
	for _, admin := range s.adminServers {
		g.Go(func() error {
			if err := admin.server.Serve(admin.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	select {
	case <-s.router.Running():
		s.setState(StateRunning)
		s.readyOnce.Do(func() { close(s.ready) })
		s.Logger.Info("Transit board is running", loggingpkg.LogFields{
			"address":  s.Addr(),
			"bindings": len(s.Bindings()),
		})
	case <-gctx.Done():
	case <-ctx.Done():
	}

	select {
	case <-ctx.Done():
		s.Logger.Info("Shutdown requested", nil)
	case <-gctx.Done():
	}

	s.shutdown(cancelRun)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.Logger.Error("Run loop failed", err, nil)
		return err
	}
	return nil
}

// prepare resolves and subscribes every binding and binds all listeners.
func (s *Service) prepare(ctx context.Context) error {
	for _, b := range s.Bindings() {
		topics, err := b.Resolve(ctx, s.source)
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			continue
		}
		sub, err := b.Open(s.source, s.Logger)
		if err != nil {
			return err
		}
		for _, topic := range topics {
			s.router.AddNoPublisherHandler(b.HandlerName(topic), topic, sub, b.Handler(topic))
		}
	}

	if err := s.statusServer().Listen(); err != nil {
		return err
	}

	s.registerAdminHandlers()
	return s.listenAdmin()
}

func (s *Service) fail(msg string, err error) {
	fields := loggingpkg.LogFields{}
	var missing *gatepkg.MissingTopicError
	if errors.As(err, &missing) {
		fields["topic"] = missing.Topic
		fields["remedy"] = missing.Remedy
	}
	s.Logger.Error(msg, err, fields)
	if server := s.statusServer(); server != nil {
		if closeErr := server.Close(); closeErr != nil {
			s.Logger.Error("Failed to release status listener", closeErr, nil)
		}
	}
	for _, admin := range s.adminServers {
		_ = admin.listener.Close()
	}
	if closeErr := s.closeAll(); closeErr != nil {
		s.Logger.Error("Failed to release resources", closeErr, nil)
	}
	s.setState(StateFailed)
}

// shutdown stops the router first so in-flight records finish, then the
// listeners, then every binding and the source. Cancelling the run context
// ends every subscription; closing the router waits for the handlers.
func (s *Service) shutdown(cancelRun context.CancelFunc) {
	s.setState(StateShuttingDown)

	cancelRun()
	if err := s.router.Close(); err != nil {
		s.Logger.Error("Failed to close router", err, nil)
	}

	timeout := time.Duration(s.Conf.ShutdownTimeout)
	if timeout <= 0 {
		timeout = configpkg.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.statusServer().Shutdown(ctx); err != nil {
		s.Logger.Error("Failed to shut down status server", err, nil)
	}
	for _, admin := range s.adminServers {
		if err := admin.server.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shut down admin server", err, loggingpkg.LogFields{"address": admin.listener.Addr().String()})
		}
	}

	if err := s.closeAll(); err != nil {
		s.Logger.Error("Shutdown finished with errors", err, nil)
	}
	s.setState(StateStopped)
	s.Logger.Info("Transit board stopped", nil)
}

func (s *Service) closeAll() error {
	errs := []error{s.closeBindings()}
	if err := s.source.Close(); err != nil {
		s.Logger.Error("Failed to close source", err, nil)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeBindings closes every binding even when some fail.
func (s *Service) closeBindings() error {
	var errs []error
	for _, b := range s.Bindings() {
		if err := b.Close(); err != nil {
			s.Logger.Error("Failed to close binding", err, loggingpkg.LogFields{"binding": b.Name})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterHTTPHandler mounts handler on the admin listener for port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) listenAdmin() error {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	ports := make([]int, 0, len(s.httpServers))
	for port := range s.httpServers {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	for _, port := range ports {
		addr := ":" + strconv.Itoa(port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("admin: listen on %s: %w", addr, err)
		}
		s.Logger.Info("Starting admin server", loggingpkg.LogFields{"address": ln.Addr().String()})
		s.adminServers = append(s.adminServers, &adminServer{
			server:   &http.Server{Handler: s.httpServers[port], ReadHeaderTimeout: 10 * time.Second},
			listener: ln,
		})
	}
	return nil
}

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}
