package health

import (
	"sort"
	"sync"

	"funding_arb/internal/core"
)

const (
	StatusHealthy   = "Healthy"
	statusUnhealthy = "Unhealthy: "
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

var _ core.IHealthMonitor = (*HealthManager)(nil)

func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]func() error)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds or replaces the health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

func (hm *HealthManager) Unregister(component string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.checks, component)
}

// Components lists registered component names in order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check once and reports the overall verdict with the
// per-component status
func (hm *HealthManager) Check() (bool, map[string]string) {
	hm.mu.RLock()
	checks := make(map[string]func() error, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	hm.mu.RUnlock()

	healthy := true
	status := make(map[string]string, len(checks))
	for name, check := range checks {
		if err := check(); err != nil {
			healthy = false
			status[name] = statusUnhealthy + err.Error()
			if hm.logger != nil {
				hm.logger.Debug("Health check failed", "check", name, "error", err)
			}
			continue
		}
		status[name] = StatusHealthy
	}
	return healthy, status
}

func (hm *HealthManager) GetStatus() map[string]string {
	_, status := hm.Check()
	return status
}

func (hm *HealthManager) IsHealthy() bool {
	healthy, _ := hm.Check()
	return healthy
}
