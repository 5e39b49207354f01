package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Report is the aggregated health of the operator's components
type Report struct {
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Ready reports whether a readiness Report passed
func (r Report) Ready() bool { return r.Status == "ready" }

type component struct {
	healthy bool
	message string
	updated time.Time
}

// registry holds the last reported state of each component. The sampler
// writes it once per interval; the health routes read it.
type registry struct {
	mu         sync.RWMutex
	components map[string]component
	critical   []string
	version    string
	started    time.Time
}

var components = &registry{
	components: make(map[string]component),
	critical:   []string{"workload", "kafka"},
	started:    time.Now(),
}

// SetCriticalComponents replaces the components readiness depends on
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	components.critical = append([]string(nil), names...)
	components.mu.Unlock()
}

// SetVersion records the workload version shown by the health routes
func SetVersion(version string) {
	components.mu.Lock()
	components.version = version
	components.mu.Unlock()
}

// UpdateComponent records the state of a component and mirrors it on the
// component gauge
func UpdateComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	components.components[name] = component{healthy: healthy, message: message, updated: time.Now()}
	components.mu.Unlock()
	SetBool(ComponentHealthy.WithLabelValues(name), healthy)
}

// ResetComponents forgets every reported component
func ResetComponents() {
	components.mu.Lock()
	components.components = make(map[string]component)
	components.mu.Unlock()
	ComponentHealthy.Reset()
}

// GetHealth is unhealthy as soon as one reported component is
func GetHealth() Report {
	components.mu.RLock()
	defer components.mu.RUnlock()

	r := components.report("healthy")
	names := make([]string, 0, len(components.components))
	for name := range components.components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := components.components[name]
		if c.healthy {
			r.Components[name] = "healthy"
			continue
		}
		r.Components[name] = "unhealthy: " + c.message
		if r.Status == "healthy" {
			r.Status = "unhealthy"
			r.Message = name + " is unhealthy"
		}
	}
	return r
}

// GetReadiness requires every critical component to be reported and
// healthy. Message names the first one that is not.
func GetReadiness() Report {
	components.mu.RLock()
	defer components.mu.RUnlock()

	r := components.report("ready")
	for _, name := range components.critical {
		c, ok := components.components[name]
		var reason string
		switch {
		case !ok:
			r.Components[name] = "not registered"
			reason = "waiting for " + name + " initialization"
		case !c.healthy:
			r.Components[name] = "not ready: " + c.message
			reason = "waiting for " + name
		default:
			r.Components[name] = "ready"
			continue
		}
		if r.Status == "ready" {
			r.Status = "not_ready"
			r.Message = reason
		}
	}
	return r
}

func (reg *registry) report(status string) Report {
	return Report{
		Status:     status,
		Components: make(map[string]string),
		Version:    reg.version,
		Uptime:     time.Since(reg.started).Round(time.Second).String(),
	}
}

// LivenessHandler answers 200 while the process serves requests
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(components.started).Round(time.Second).String(),
		})
	}
}
