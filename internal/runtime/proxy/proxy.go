// Package proxy is the synchronous edge of the mesh: a reverse proxy that
// routes inbound HTTP requests to healthy service instances, guarded by the
// adaptive rate limiter and per-service circuit breakers.
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	breakerpkg "github.com/hrmesh/hrmesh/internal/runtime/breaker"
	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
	metricspkg "github.com/hrmesh/hrmesh/internal/runtime/metrics"
	ratelimitpkg "github.com/hrmesh/hrmesh/internal/runtime/ratelimit"
	registrypkg "github.com/hrmesh/hrmesh/internal/runtime/registry"
)

// Request headers the gateway reads to derive the rate limit key.
const (
	HeaderIdentity   = "X-User-Id"
	HeaderCredential = "Authorization"
)

const tracerName = "github.com/hrmesh/hrmesh/internal/runtime/proxy"

// Config tunes the gateway.
type Config struct {
	// Routes maps a path prefix to a logical service name,
	// e.g. "/x/employees" -> "employee".
	Routes map[string]string
	// ForwardTimeout bounds a single proxied upstream call.
	ForwardTimeout time.Duration
}

type route struct {
	prefix  string
	service string
}

// Gateway routes inbound requests through rate limiting, circuit breaking
// and health-aware instance selection, then forwards them upstream.
type Gateway struct {
	cfg      Config
	logger   loggingpkg.ServiceLogger
	registry *registrypkg.Registry
	breakers *breakerpkg.Set
	limiter  *ratelimitpkg.Limiter
	client   *http.Client
	metrics  *metricspkg.Metrics
	tracer   trace.Tracer

	routes []route // sorted longest prefix first
}

// NewGateway wires a Gateway from its collaborators. A nil client falls back
// to http.DefaultClient and nil metrics to unregistered collectors.
func NewGateway(
	cfg Config,
	logger loggingpkg.ServiceLogger,
	reg *registrypkg.Registry,
	breakers *breakerpkg.Set,
	limiter *ratelimitpkg.Limiter,
	client *http.Client,
	m *metricspkg.Metrics,
) *Gateway {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if m == nil {
		m = metricspkg.Nop()
	}

	routes := make([]route, 0, len(cfg.Routes))
	for prefix, service := range cfg.Routes {
		routes = append(routes, route{prefix: prefix, service: service})
	}
	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].prefix) > len(routes[j].prefix)
	})

	return &Gateway{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		breakers: breakers,
		limiter:  limiter,
		client:   client,
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
		routes:   routes,
	}
}

// Handler returns the HTTP surface of the gateway: the health summary
// endpoint plus a catch-all proxy route.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/internal/health/services", g.handleHealthSummary)
	r.HandleFunc("/*", g.handleProxy)
	return r
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(HeaderIdentity)
	credential := r.Header.Get(HeaderCredential)
	if err := g.limiter.AllowRequest(identity, credential, originAddress(r)); err != nil {
		g.reject(w, r, "", err)
		return
	}

	service, rest, ok := g.resolve(r.URL.Path)
	if !ok {
		g.reject(w, r, "", errspkg.Newf(errspkg.CodeUnroutable,
			"no service mapped for path %q", r.URL.Path))
		return
	}

	br := g.breakers.Get(service)
	if err := br.Allow(); err != nil {
		g.reject(w, r, service, err)
		return
	}

	inst, err := g.registry.BestInstance(service)
	if err != nil {
		// The downstream was never contacted; hand the admission back so
		// a half-open breaker does not keep its probe slot.
		br.Release()
		g.reject(w, r, service, err)
		return
	}

	resp, err := g.forward(r, inst, rest)
	if err != nil {
		br.ReportFailure()
		g.reject(w, r, service, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		br.ReportFailure()
	} else {
		br.ReportSuccess()
	}

	g.metrics.ProxyRequests.WithLabelValues(service, "OK").Inc()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		g.logger.Error("Streaming upstream response failed", err, loggingpkg.LogFields{
			"service":  service,
			"instance": inst.ID,
		})
	}
}

// resolve maps a request path to a logical service by longest matching
// prefix and returns the rewritten upstream path.
func (g *Gateway) resolve(path string) (service, rest string, ok bool) {
	for _, rt := range g.routes {
		if !strings.HasPrefix(path, rt.prefix) {
			continue
		}
		rest = strings.TrimPrefix(path, rt.prefix)
		if rest != "" && !strings.HasPrefix(rest, "/") {
			continue // prefix match must end on a path segment
		}
		if rest == "" {
			rest = "/"
		}
		return rt.service, rest, true
	}
	return "", "", false
}

func (g *Gateway) forward(r *http.Request, inst registrypkg.Instance, rest string) (*http.Response, error) {
	timeout := g.cfg.ForwardTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ctx, span := g.tracer.Start(ctx, "proxy.forward", trace.WithAttributes(
		attribute.String("hrmesh.service", inst.ID),
		attribute.String("http.method", r.Method),
	))
	defer span.End()

	target := strings.TrimSuffix(inst.BaseURL, "/") + rest
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, errspkg.Wrap(errspkg.CodeBadGateway, "building upstream request", err)
	}
	copyHeader(out.Header, r.Header)
	out.Header.Set("X-Forwarded-For", originAddress(r))

	resp, err := g.client.Do(out)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errspkg.Wrap(errspkg.CodeTimeout, "upstream call timed out", err)
		}
		return nil, errspkg.Wrap(errspkg.CodeBadGateway, "upstream call failed", err)
	}
	return resp, nil
}

func (g *Gateway) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, g.registry.Summary())
}

// reject renders a terminal gateway error. These are never retried
// internally; the retryAfter hint makes retrying a client concern.
func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, service string, err error) {
	structured, ok := errspkg.AsError(err)
	if !ok {
		structured = errspkg.Wrap(errspkg.CodeInternal, "request failed", err)
	}

	label := service
	if label == "" {
		label = "unmapped"
	}
	g.metrics.ProxyRequests.WithLabelValues(label, string(structured.Code)).Inc()

	g.logger.Debug("Request rejected", loggingpkg.LogFields{
		"code":    structured.Code,
		"path":    r.URL.Path,
		"service": service,
	})

	writeError(w, structured)
}

func originAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// hop-by-hop headers are connection-scoped and must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
}
