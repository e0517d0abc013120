package registry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
)

// LoadScoreHeader is the response header instances use to report their
// current load with a health check response. Values outside it default the
// score to zero.
const LoadScoreHeader = "X-Load-Score"

// ProberConfig tunes the background health-probe loop.
type ProberConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// Path is appended to each instance's base URL, e.g. "/health".
	Path string
}

// Prober periodically checks every registered instance and updates its
// health and load score in the Registry. It is the only writer of instance
// health outside explicit Mark calls.
type Prober struct {
	registry *Registry
	client   *http.Client
	cfg      ProberConfig
	logger   loggingpkg.ServiceLogger
}

// NewProber constructs a Prober. A nil client falls back to a dedicated
// http.Client bounded by the probe timeout.
func NewProber(reg *Registry, cfg ProberConfig, logger loggingpkg.ServiceLogger, client *http.Client) *Prober {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Prober{
		registry: reg,
		client:   client,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run probes all instances every interval until the context is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll checks every registered instance once.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, service := range p.registry.Services() {
		for _, inst := range p.registry.ListInstances(service) {
			p.probe(ctx, service, inst)
		}
	}
}

func (p *Prober) probe(ctx context.Context, service string, inst Instance) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := strings.TrimSuffix(inst.BaseURL, "/") + p.cfg.Path
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		p.markUnhealthy(service, inst.ID, err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.markUnhealthy(service, inst.ID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.markUnhealthy(service, inst.ID, nil)
		return
	}

	_ = p.registry.MarkHealthy(service, inst.ID)
	if raw := resp.Header.Get(LoadScoreHeader); raw != "" {
		if load, err := strconv.ParseFloat(raw, 64); err == nil {
			_ = p.registry.UpdateLoad(service, inst.ID, load)
		}
	}
}

func (p *Prober) markUnhealthy(service, instanceID string, err error) {
	if markErr := p.registry.MarkUnhealthy(service, instanceID); markErr != nil {
		// Instance was deregistered while the probe was in flight.
		return
	}
	if err != nil {
		p.logger.Debug("Health probe failed", loggingpkg.LogFields{
			"service":  service,
			"instance": instanceID,
			"error":    err.Error(),
		})
	}
}
