package registry

import (
	errspkg "github.com/hrmesh/hrmesh/internal/runtime/errors"
)

// BestInstance returns the healthy instance with the lowest load score.
// Ties are broken by the most recent health check, preferring the instance
// whose freshness was confirmed last. When no instance is healthy the call
// fails with SERVICE_UNAVAILABLE: callers must treat this as a total outage
// rather than silently picking an unhealthy instance.
func (r *Registry) BestInstance(service string) (Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  *Instance
		found bool
	)
	for _, inst := range r.services[service] {
		if !inst.Healthy {
			continue
		}
		if !found || better(inst, best) {
			best = inst
			found = true
		}
	}

	if !found {
		return Instance{}, errspkg.Newf(errspkg.CodeServiceUnavailable,
			"no healthy instance of service %q", service)
	}
	return *best, nil
}

func better(candidate, current *Instance) bool {
	if candidate.LoadScore != current.LoadScore {
		return candidate.LoadScore < current.LoadScore
	}
	return candidate.LastCheckedAt.After(current.LastCheckedAt)
}
