package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state. Readiness requires
// the recovery flag and every registered dependency to be up.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu   sync.RWMutex
	deps map[string]bool
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		deps:      make(map[string]bool),
	}
}

// SetReady marks startup replay as finished (or not).
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetDependency records the state of a named dependency such as "postgres"
// or "nats".
func (h *HealthChecker) SetDependency(name string, up bool) {
	h.mu.Lock()
	h.deps[name] = up
	h.mu.Unlock()
}

// IsReady returns whether the service can take traffic.
func (h *HealthChecker) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, up := range h.deps {
		if !up {
			return false
		}
	}
	return true
}

func (h *HealthChecker) downDependencies() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var down []string
	for name, up := range h.deps {
		if !up {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}

// LivenessHandler returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once ready and 503 otherwise, listing the
// dependencies that are down.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "not_ready",
		"recovered": h.ready.Load(),
		"down":      h.downDependencies(),
	})
}
