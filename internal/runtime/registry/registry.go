// Package registry tracks the known instances of each logical service and
// selects the best live instance for a call. Health state is advisory: a
// failed probe marks an instance unhealthy but keeps it registered so it can
// recover without re-registration. State is in-memory only; collaborators
// re-register on boot.
package registry

import (
	sterrors "errors"
	"sort"
	"sync"
	"time"

	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
	loggingpkg "github.com/hrmesh/hrmesh/internal/runtime/logging"
)

var (
	ErrUnknownService  = sterrors.New("hrmesh: unknown service")
	ErrUnknownInstance = sterrors.New("hrmesh: unknown instance")
)

// Instance describes one running copy of a logical service. Values returned
// by the Registry are copies; the canonical state never leaves the lock.
type Instance struct {
	ID            string
	BaseURL       string
	Healthy       bool
	LastCheckedAt time.Time
	LoadScore     float64
}

// Registry is the in-memory instance table. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]*Instance

	logger loggingpkg.ServiceLogger
	now    func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New constructs an empty Registry.
func New(logger loggingpkg.ServiceLogger, opts ...Option) *Registry {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	r := &Registry{
		services: make(map[string]map[string]*Instance),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds (or replaces) an instance under a logical service. New
// instances start healthy; the prober will demote them if they are not.
func (r *Registry) Register(service string, inst Instance) error {
	if service == "" {
		return errspkg.ErrServiceNameRequired
	}
	if inst.ID == "" || inst.BaseURL == "" {
		return errspkg.ErrInstanceRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[service]
	if !ok {
		instances = make(map[string]*Instance)
		r.services[service] = instances
	}

	stored := inst
	stored.Healthy = true
	if stored.LastCheckedAt.IsZero() {
		stored.LastCheckedAt = r.now()
	}
	instances[inst.ID] = &stored

	r.logger.Info("Registered service instance", loggingpkg.LogFields{
		"service":  service,
		"instance": inst.ID,
		"base_url": inst.BaseURL,
	})
	return nil
}

// Deregister removes an instance. Removing the last instance keeps the
// service key so summaries still report it as known-but-empty.
func (r *Registry) Deregister(service, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[service]
	if !ok {
		return ErrUnknownService
	}
	if _, ok := instances[instanceID]; !ok {
		return ErrUnknownInstance
	}
	delete(instances, instanceID)
	return nil
}

// MarkHealthy records a successful health probe.
func (r *Registry) MarkHealthy(service, instanceID string) error {
	return r.setHealth(service, instanceID, true)
}

// MarkUnhealthy records a failed health probe. The instance is retained so
// it can recover without re-registration.
func (r *Registry) MarkUnhealthy(service, instanceID string) error {
	return r.setHealth(service, instanceID, false)
}

func (r *Registry) setHealth(service, instanceID string, healthy bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.lookupLocked(service, instanceID)
	if err != nil {
		return err
	}

	if inst.Healthy != healthy {
		r.logger.Info("Service instance health changed", loggingpkg.LogFields{
			"service":  service,
			"instance": instanceID,
			"healthy":  healthy,
		})
	}
	inst.Healthy = healthy
	inst.LastCheckedAt = r.now()
	return nil
}

// UpdateLoad records the latest load score reported by an instance.
func (r *Registry) UpdateLoad(service, instanceID string, load float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.lookupLocked(service, instanceID)
	if err != nil {
		return err
	}
	inst.LoadScore = load
	return nil
}

func (r *Registry) lookupLocked(service, instanceID string) (*Instance, error) {
	instances, ok := r.services[service]
	if !ok {
		return nil, ErrUnknownService
	}
	inst, ok := instances[instanceID]
	if !ok {
		return nil, ErrUnknownInstance
	}
	return inst, nil
}

// ListInstances returns copies of all instances of a service, sorted by id.
// An unknown service yields an empty slice.
func (r *Registry) ListInstances(service string) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := r.services[service]
	out := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Services returns the known logical service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServiceHealth is one row of the health-summary endpoint.
type ServiceHealth struct {
	Service   string `json:"service"`
	Instances int    `json:"instances"`
	Healthy   int    `json:"healthy"`
	Unhealthy int    `json:"unhealthy"`
}

// Summary reports per-service instance counts with a healthy/unhealthy
// breakdown, sorted by service name.
func (r *Registry) Summary() []ServiceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceHealth, 0, len(r.services))
	for name, instances := range r.services {
		row := ServiceHealth{Service: name, Instances: len(instances)}
		for _, inst := range instances {
			if inst.Healthy {
				row.Healthy++
			} else {
				row.Unhealthy++
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
