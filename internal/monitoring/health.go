package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// ComponentHealth is the tracked health state of one engine component.
type ComponentHealth struct {
	Name         string    `json:"name"`
	Initialized  bool      `json:"initialized"`
	Healthy      bool      `json:"healthy"`
	LastUpdate   time.Time `json:"last_update"`
	RecentErrors int       `json:"recent_errors"`
	LastError    string    `json:"last_error,omitempty"`
}

// HealthRegistry tracks per-component health. Components report successes and
// failures on the hot path; the periodic health check flips components
// unhealthy on staleness or repeated recent errors. All operations are short
// critical sections so reads never hold up the decision path.
type HealthRegistry struct {
	mu               sync.RWMutex
	components       map[string]*ComponentHealth
	maxRecentErrors  int
	stalenessTimeout time.Duration
}

// NewHealthRegistry creates a health registry.
func NewHealthRegistry(maxRecentErrors int, stalenessTimeout time.Duration) *HealthRegistry {
	return &HealthRegistry{
		components:       make(map[string]*ComponentHealth),
		maxRecentErrors:  maxRecentErrors,
		stalenessTimeout: stalenessTimeout,
	}
}

// Register adds a component in the initialized, healthy state.
func (r *HealthRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = &ComponentHealth{
		Name:        name,
		Initialized: true,
		Healthy:     true,
		LastUpdate:  time.Now(),
	}
}

// RecordSuccess marks a successful component operation, decaying the recent
// error count.
func (r *HealthRegistry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[name]
	if !ok {
		return
	}
	c.LastUpdate = time.Now()
	if c.RecentErrors > 0 {
		c.RecentErrors--
	}
	if c.RecentErrors < r.maxRecentErrors {
		c.Healthy = true
	}
}

// RecordError marks a failed component operation. The component flips
// unhealthy once recent errors reach the configured threshold.
func (r *HealthRegistry) RecordError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[name]
	if !ok {
		return
	}
	c.LastUpdate = time.Now()
	c.RecentErrors++
	if err != nil {
		c.LastError = err.Error()
	}
	if c.RecentErrors >= r.maxRecentErrors {
		c.Healthy = false
	}
}

// IsHealthy reports whether the named component is currently usable.
// Unregistered components are treated as unhealthy.
func (r *HealthRegistry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return ok && c.Healthy
}

// Sweep flips components unhealthy when they have not reported within the
// staleness timeout. Runs on the periodic health check, never on the
// decision path.
func (r *HealthRegistry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, c := range r.components {
		if now.Sub(c.LastUpdate) > r.stalenessTimeout {
			c.Healthy = false
		}
	}
}

// Snapshot returns a copy of all component health records.
func (r *HealthRegistry) Snapshot() map[string]ComponentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ComponentHealth, len(r.components))
	for name, c := range r.components {
		out[name] = *c
	}
	return out
}

// HealthStatus is the JSON payload of the health endpoint.
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// Handler serves the registry as a JSON health endpoint.
func (r *HealthRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		snapshot := r.Snapshot()

		status := "healthy"
		code := http.StatusOK
		for _, c := range snapshot {
			if !c.Healthy {
				status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(HealthStatus{
			Status:     status,
			Timestamp:  time.Now(),
			Uptime:     time.Since(startTime).String(),
			Components: snapshot,
		})
	})
}
