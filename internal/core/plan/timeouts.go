package plan

import (
	"slices"
	"time"
)

// Default readiness timeouts.
const (
	DefaultTimeout = 180 * time.Second
	SlowTimeout    = 300 * time.Second
)

// TimeoutPolicy decides how long a readiness gate may wait for a service.
type TimeoutPolicy struct {
	Default      time.Duration
	Slow         time.Duration
	SlowServices []string
	Overrides    map[string]time.Duration
}

// DefaultTimeoutPolicy returns the policy with built-in durations.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{Default: DefaultTimeout, Slow: SlowTimeout}
}

// For returns the timeout for service. Overrides win over the slow list,
// which wins over the default.
func (p TimeoutPolicy) For(service string) time.Duration {
	if d, ok := p.Overrides[service]; ok && d > 0 {
		return d
	}
	if slices.Contains(p.SlowServices, service) {
		if p.Slow > 0 {
			return p.Slow
		}
		return SlowTimeout
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultTimeout
}
