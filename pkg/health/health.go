package health

import (
	"context"
	"fmt"
	"time"
)

// CheckType names the kind of probe
type CheckType string

const (
	CheckTypeHTTP  CheckType = "http"
	CheckTypeTCP   CheckType = "tcp"
	CheckTypeExec  CheckType = "exec"
	CheckTypeKafka CheckType = "kafka"
)

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one component
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config tunes how probe results are judged
type Config struct {
	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures that turn a
	// component unhealthy
	Retries int

	// StartPeriod ignores failures while the registry boots
	StartPeriod time.Duration
}

// DefaultConfig returns the probe defaults
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Retries: 3,
	}
}

// finish stamps a result started at start
func finish(start time.Time, healthy bool, format string, args ...any) Result {
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Tracker smooths a stream of results. A component starts healthy, turns
// unhealthy after Config.Retries consecutive failures and recovers on the
// first success. Tracker is not safe for concurrent use.
type Tracker struct {
	cfg       Config
	startedAt time.Time
	failures  int
	healthy   bool
	last      Result
}

// NewTracker creates a Tracker
func NewTracker(cfg Config) *Tracker {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Tracker{cfg: cfg, startedAt: time.Now(), healthy: true}
}

// Observe records r and returns the smoothed health
func (t *Tracker) Observe(r Result) bool {
	t.last = r
	if r.Healthy {
		t.failures = 0
		t.healthy = true
		return true
	}
	if t.inStartPeriod() {
		return t.healthy
	}
	t.failures++
	if t.failures >= t.cfg.Retries {
		t.healthy = false
	}
	return t.healthy
}

// Healthy returns the smoothed health
func (t *Tracker) Healthy() bool { return t.healthy }

// Failures returns the current run of failed results
func (t *Tracker) Failures() int { return t.failures }

// Last returns the latest observed result
func (t *Tracker) Last() Result { return t.last }

func (t *Tracker) inStartPeriod() bool {
	return t.cfg.StartPeriod > 0 && time.Since(t.startedAt) < t.cfg.StartPeriod
}
