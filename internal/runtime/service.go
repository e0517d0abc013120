// Package runtime wires the hrmesh communication layer: transport, bus
// router, service registry, circuit breakers, rate limiter, gateway, and
// the request/response bridge.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	breakerpkg "github.com/hrmesh/hrmesh/internal/runtime/breaker"
	bridgepkg "github.com/hrmesh/hrmesh/internal/runtime/bridge"
	configpkg "github.com/hrmesh/hrmesh/internal/runtime/config"
	envelopepkg "github.com/hrmesh/hrmesh/internal/runtime/envelope"
	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
	metricspkg "github.com/hrmesh/hrmesh/internal/runtime/metrics"
	proxypkg "github.com/hrmesh/hrmesh/internal/runtime/proxy"
	ratelimitpkg "github.com/hrmesh/hrmesh/internal/runtime/ratelimit"
	registrypkg "github.com/hrmesh/hrmesh/internal/runtime/registry"
	transportpkg "github.com/hrmesh/hrmesh/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators a Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// TransportBuild overrides the default transport registry lookup.
	TransportBuild transportpkg.Builder
	// HTTPClient is used for proxied upstream calls and health probes.
	HTTPClient *http.Client
	// Registerer receives the Prometheus collectors. Defaults to a fresh
	// registry exposed on the metrics port.
	Registerer *prometheus.Registry
	// FetchHandler, when set, runs the responding side of the bridge: the
	// service owns data and answers fetch requests on the request topic.
	FetchHandler bridgepkg.HandlerFunc
}

// Service wires the communication-layer components over one bus transport.
// Construct with NewService and run with Start.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	registry *registrypkg.Registry
	breakers *breakerpkg.Set
	limiter  *ratelimitpkg.Limiter
	gateway  *proxypkg.Gateway
	bridge   *bridgepkg.Bridge
	prober   *registrypkg.Prober

	metrics    *metricspkg.Metrics
	registerer *prometheus.Registry
	httpClient *http.Client
}

// NewService constructs a Service for the supplied configuration. Register
// instances on the returned Service before calling Start.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	conf.Normalize()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating communication service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:       conf,
		Logger:     log,
		httpClient: deps.HTTPClient,
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}

	s.registerer = deps.Registerer
	if conf.MetricsEnabled {
		if s.registerer == nil {
			s.registerer = prometheus.NewRegistry()
		}
		s.metrics = metricspkg.New(s.registerer)
	} else {
		s.metrics = metricspkg.Nop()
	}

	build := deps.TransportBuild
	if build == nil {
		build = transportpkg.Build
	}
	tr, err := build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("building %q transport: %w", conf.PubSubSystem, err)
	}
	s.publisher = tr.Publisher
	s.subscriber = tr.Subscriber

	s.registry = registrypkg.New(log)
	s.breakers = breakerpkg.NewSet(breakerpkg.Config{
		Threshold: conf.BreakerThreshold,
		Cooldown:  conf.BreakerCooldown,
	}, log, breakerpkg.WithMetrics(s.metrics))
	s.limiter = ratelimitpkg.New(ratelimitpkg.Config{
		Window: conf.RateLimitWindow,
		BaseLimits: map[ratelimitpkg.Category]int{
			ratelimitpkg.CategoryGlobal:     conf.GlobalRateLimit,
			ratelimitpkg.CategoryIdentity:   conf.IdentityRateLimit,
			ratelimitpkg.CategoryCredential: conf.CredentialRateLimit,
		},
		IdleTTL: conf.RateLimitIdleTTL,
	}, log, ratelimitpkg.WithMetrics(s.metrics))

	s.gateway = proxypkg.NewGateway(proxypkg.Config{
		Routes:         conf.Routes,
		ForwardTimeout: conf.ForwardTimeout,
	}, log, s.registry, s.breakers, s.limiter, s.httpClient, s.metrics)

	s.prober = registrypkg.NewProber(s.registry, registrypkg.ProberConfig{
		Interval: conf.HealthCheckInterval,
		Timeout:  conf.HealthCheckTimeout,
		Path:     conf.HealthCheckPath,
	}, log, s.httpClient)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if conf.RequestTopic != "" && conf.ResponseTopic != "" {
		s.bridge, err = bridgepkg.New(bridgepkg.Config{
			RequestTopic:  conf.RequestTopic,
			ResponseTopic: conf.ResponseTopic,
			Source:        conf.ServiceName,
			Timeout:       conf.RequestTimeout,
		}, s.publisher, log, s.metrics)
		if err != nil {
			return nil, err
		}

		s.router.AddNoPublisherHandler(
			"bridge_reply_consumer",
			conf.ResponseTopic,
			s.subscriber,
			s.bridge.HandleReply,
		)

		if deps.FetchHandler != nil {
			responder := bridgepkg.NewResponder(conf.ServiceName, deps.FetchHandler, log)
			s.router.AddHandler(
				"bridge_request_responder",
				conf.RequestTopic,
				s.subscriber,
				conf.ResponseTopic,
				s.publisher,
				responder.Handle,
			)
		}
	}

	return s, nil
}

// Start runs the health prober, the HTTP servers, and the bus router until
// the provided context is cancelled. The bridge is closed before the router
// stops so in-flight RPCs are rejected instead of silently abandoned.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.prober.Run(ctx)

	servers := s.startHTTPServers()
	go func() {
		<-ctx.Done()
		if s.bridge != nil {
			s.bridge.Close()
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.Logger.Error("HTTP server shutdown failed", err, loggingpkg.LogFields{"addr": srv.Addr})
			}
		}
	}()

	return routerRun(s.router, ctx)
}

func (s *Service) startHTTPServers() []*http.Server {
	var servers []*http.Server

	if s.Conf.GatewayAddress != "" {
		gatewaySrv := &http.Server{
			Addr:    s.Conf.GatewayAddress,
			Handler: s.gateway.Handler(),
		}
		servers = append(servers, gatewaySrv)
		go func() {
			s.Logger.Info("Gateway listening", loggingpkg.LogFields{"addr": gatewaySrv.Addr})
			if err := gatewaySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Gateway server failed", err, loggingpkg.LogFields{"addr": gatewaySrv.Addr})
			}
		}()
	}

	if s.Conf.MetricsEnabled && s.Conf.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registerer, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", s.Conf.MetricsPort),
			Handler: mux,
		}
		servers = append(servers, metricsSrv)
		go func() {
			s.Logger.Info("Metrics listening", loggingpkg.LogFields{"addr": metricsSrv.Addr})
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Metrics server failed", err, loggingpkg.LogFields{"addr": metricsSrv.Addr})
			}
		}()
	}

	return servers
}

// Running closes when the bus router has started and handlers are consuming.
func (s *Service) Running() <-chan struct{} {
	return s.router.Running()
}

// Registry exposes the live instance registry so hosting code can register
// and deregister instances.
func (s *Service) Registry() *registrypkg.Registry {
	return s.registry
}

// GatewayHandler returns the gateway's HTTP surface for embedding into an
// existing server instead of the built-in listener.
func (s *Service) GatewayHandler() http.Handler {
	return s.gateway.Handler()
}

// ObserveLoad feeds an external load sample into the adaptive rate limiter.
func (s *Service) ObserveLoad(load float64) {
	s.limiter.ObserveLoad(load)
}

// Fetch issues a correlated request over the bus and waits for the reply.
func (s *Service) Fetch(ctx context.Context, operation string, ids []string) (envelopepkg.Event, error) {
	if s.bridge == nil {
		return envelopepkg.Event{}, errspkg.ErrTopicRequired
	}
	return s.bridge.Fetch(ctx, operation, ids)
}
