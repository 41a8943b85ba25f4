package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/commitguard/internal/runtime/config"
	dedupkg "github.com/drblury/commitguard/internal/runtime/dedup"
	errspkg "github.com/drblury/commitguard/internal/runtime/errors"
	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
	transportpkg "github.com/drblury/commitguard/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults derived from the configuration.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportRegistry         *transportpkg.Registry   // Defaults to transport.DefaultRegistry.
	DedupStore                dedupkg.Store            // Defaults to the store named by Conf.DedupBackend.
	Hooks                     CycleHooks
	MetricsRegisterer         prometheus.Registerer
	Clock                     func() time.Time
}

// Service wires a Watermill router, the transports and the commit
// coordinator together.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	ctx      context.Context
	wmLogger watermill.LoggerAdapter
	registry *transportpkg.Registry

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	transports   map[string]transportpkg.Transport
	transportsMu sync.Mutex

	store       dedupkg.Store
	cleaner     *dedupkg.Cleaner
	registerer  prometheus.Registerer
	metrics     *CommitMetrics
	coordinator *Coordinator

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	running       []*http.Server
}

// NewService constructs a Service for the supplied configuration. Register handlers
// on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	normalized := conf.WithDefaults()
	conf = &normalized
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"app_name":      conf.AppName,
			"config":        conf.String(),
		})

	registry := deps.TransportRegistry
	if registry == nil {
		registry = transportpkg.DefaultRegistry
	}
	if caps := registry.GetCapabilities(conf.PubSubSystem); !caps.ProvidesPositions {
		log.Warn("Transport does not report partition and offset, duplicate detection is disabled", loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
		})
	}

	s := &Service{
		Conf:       conf,
		Logger:     log,
		ctx:        ctx,
		wmLogger:   wmLogger,
		registry:   registry,
		transports: make(map[string]transportpkg.Transport),
	}

	transport, err := registry.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.transports[conf.ConsumerGroup] = transport

	if err := s.init(deps); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(deps ServiceDependencies) error {
	store := deps.DedupStore
	if store == nil {
		var err error
		store, err = dedupkg.Open(s.ctx, dedupkg.Config{
			Backend:       s.Conf.DedupBackend,
			DSN:           s.Conf.DedupDSN,
			Table:         s.Conf.DedupTable,
			RedisAddr:     s.Conf.RedisAddr,
			RedisPassword: s.Conf.RedisPassword,
			RedisDB:       s.Conf.RedisDB,
			TTL:           s.Conf.DedupTTL,
		})
		if err != nil {
			return fmt.Errorf("open dedup store: %w", err)
		}
	}
	s.store = store
	s.cleaner = dedupkg.NewCleaner(store, dedupkg.CleanerOptions{
		Retention: s.Conf.DedupTTL,
		Interval:  s.Conf.DedupCleanupInterval,
		Logger:    s.Logger,
	})

	s.registerer = deps.MetricsRegisterer
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	s.metrics = NewCommitMetrics(s.registerer)
	if s.Conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	producer, err := NewProducer(s.publisher, s.Conf.Destination, s.Logger, s.metrics)
	if err != nil {
		return err
	}
	s.coordinator, err = NewCoordinator(CoordinatorOptions{
		Store:             store,
		Producer:          producer,
		Logger:            s.Logger,
		Metrics:           s.metrics,
		Hooks:             deps.Hooks,
		MaxProcessingTime: s.Conf.MaxProcessingTime,
		PartitionScoped:   s.Conf.PartitionScopedDedup,
		Clock:             deps.Clock,
	})
	if err != nil {
		return err
	}

	router, err := message.NewRouter(message.RouterConfig{}, s.wmLogger)
	if err != nil {
		return err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	return s.registerConfiguredMiddlewares(deps)
}

// Coordinator returns the commit coordinator shared by all handlers.
func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

// Metrics returns the commit metrics.
func (s *Service) Metrics() *CommitMetrics {
	return s.metrics
}

// Publisher returns the publisher of the default transport.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// Start runs the underlying Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.LogChannels()
	s.StartAdminServer()
	s.startHTTPServers()
	s.startDedupCleaner(ctx)
	return routerRun(s.router, ctx)
}

// startDedupCleaner sweeps entries older than DedupTTL out of stores that do
// not expire them on their own, until ctx is done.
func (s *Service) startDedupCleaner(ctx context.Context) {
	if !s.cleaner.Enabled() {
		return
	}
	s.Logger.Info("Starting dedup cleanup", loggingpkg.LogFields{
		"retention": s.Conf.DedupTTL.String(),
		"interval":  s.cleaner.Interval().String(),
	})
	go func() {
		_ = s.cleaner.Run(ctx)
	}()
}

// Running is closed once the router is running.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and closes every transport and the dedup store.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Close())
	}
	s.stopHTTPServers()

	s.transportsMu.Lock()
	for group, transport := range s.transports {
		if err := transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport for group %q: %w", group, err))
		}
	}
	s.transports = map[string]transportpkg.Transport{}
	s.transportsMu.Unlock()

	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// subscriberFor returns a subscriber consuming as group. Transports fix their
// consumer group when built, so each extra group gets its own transport
// unless the default subscriber can scope itself to the group.
func (s *Service) subscriberFor(group string) (message.Subscriber, error) {
	if group == "" || group == s.Conf.ConsumerGroup {
		return s.subscriber, nil
	}

	s.transportsMu.Lock()
	defer s.transportsMu.Unlock()
	if transport, ok := s.transports[group]; ok {
		return transport.Subscriber, nil
	}

	if scoper, ok := s.subscriber.(transportpkg.GroupScoper); ok {
		sub := scoper.ForGroup(group)
		s.transports[group] = transportpkg.Transport{Subscriber: sub}
		return sub, nil
	}

	transport, err := s.registry.Build(s.ctx, s.Conf.ForGroup(group), s.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport for group %q: %w", group, err)
	}
	s.transports[group] = transport
	return transport.Subscriber, nil
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

// RegisterHTTPHandler mounts handler on pattern of the HTTP server for port.
// Servers start with the service.
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

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		s.running = append(s.running, server)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for _, server := range s.running {
		_ = server.Close()
	}
	s.running = nil
}
