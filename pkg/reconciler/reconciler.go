package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/karapace-operator/pkg/auth"
	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/health"
	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/relation"
	"github.com/cuemby/karapace-operator/pkg/render"
	"github.com/cuemby/karapace-operator/pkg/state"
	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
	"github.com/rs/zerolog"
)

// Default loop timings
const (
	DefaultDeferDelay           = 10 * time.Second
	DefaultUpdateStatusInterval = 5 * time.Minute
)

// DependencyChecker reports whether Kafka answers
type DependencyChecker interface {
	Reachable(ctx context.Context) bool
}

// ServicePatcher applies the orchestration side effect run on install
type ServicePatcher interface {
	Disable(ctx context.Context) error
}

// RestartLock serializes restarts across replicas
type RestartLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Deps are the managers the controller sequences. ServiceLinks,
// RestartLock, Broker and Probe are optional.
type Deps struct {
	Cluster      *state.Cluster
	Workload     *workload.Workload
	Relations    relation.Source
	Auth         *auth.Manager
	TLS          *tlsstate.Manager
	Renderer     *render.Renderer
	Kafka        DependencyChecker
	ServiceLinks ServicePatcher
	RestartLock  RestartLock
	Broker       *events.Broker

	// Probe checks the registry endpoint for the metrics sampler
	Probe health.Checker
}

// Options tune the driving loop
type Options struct {
	// Host is the address other units and clients reach this unit on
	Host string

	// Port is the registry port published to clients
	Port int

	DeferDelay           time.Duration
	UpdateStatusInterval time.Duration

	// ProbeConfig smooths Probe results
	ProbeConfig health.Config
}

type handlerFunc func(ctx context.Context, e types.Event) (types.Result, error)

// Controller is the per-replica reconciliation state machine. It owns its
// managers and processes one event at a time.
type Controller struct {
	cluster   *state.Cluster
	workload  *workload.Workload
	relations relation.Source
	auth      *auth.Manager
	tls       *tlsstate.Manager
	renderer  *render.Renderer
	kafka     DependencyChecker
	links     ServicePatcher
	lock      RestartLock
	broker    *events.Broker

	probe        health.Checker
	probeTracker *health.Tracker

	opts     Options
	logger   zerolog.Logger
	handlers map[types.EventType]handlerFunc

	queue   chan types.Event
	actions chan action

	mu      sync.RWMutex
	status  types.Status
	version string
	pending map[types.EventType]bool
}

// New creates a Controller
func New(d Deps, opts Options) *Controller {
	if opts.DeferDelay == 0 {
		opts.DeferDelay = DefaultDeferDelay
	}
	if opts.UpdateStatusInterval == 0 {
		opts.UpdateStatusInterval = DefaultUpdateStatusInterval
	}
	if opts.Port == 0 {
		opts.Port = types.Port
	}
	if opts.ProbeConfig.Retries == 0 {
		opts.ProbeConfig = health.DefaultConfig()
	}

	c := &Controller{
		cluster:      d.Cluster,
		workload:     d.Workload,
		relations:    d.Relations,
		auth:         d.Auth,
		tls:          d.TLS,
		renderer:     d.Renderer,
		kafka:        d.Kafka,
		links:        d.ServiceLinks,
		lock:         d.RestartLock,
		broker:       d.Broker,
		probe:        d.Probe,
		probeTracker: health.NewTracker(opts.ProbeConfig),
		opts:         opts,
		logger:       log.WithUnit(d.Cluster.Unit()),
		queue:        make(chan types.Event, 64),
		actions:      make(chan action),
		pending:      make(map[types.EventType]bool),
		status:       types.StatusContainerNotConnected,
	}
	c.handlers = map[types.EventType]handlerFunc{
		types.EventInstall:             c.onInstall,
		types.EventWorkloadReady:       c.onWorkloadReady,
		types.EventConfigChanged:       c.onConfigChanged,
		types.EventUpdateStatus:        c.onUpdateStatus,
		types.EventRestartRequested:    c.onRestartRequested,
		types.EventLeaderElected:       c.onLeaderElected,
		types.EventCertificatesChanged: c.onCertificatesChanged,
	}
	return c
}

// Status returns the current replica status
func (c *Controller) Status() types.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Version returns the workload version recorded on install
func (c *Controller) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Unit returns the local unit name
func (c *Controller) Unit() string {
	return c.cluster.Unit()
}

// IsLeader reports whether this replica is the leader
func (c *Controller) IsLeader() bool {
	return c.cluster.IsLeader()
}

func (c *Controller) setStatus(s types.Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	metrics.SetStatus(s.Name, string(s.Severity))
	if !changed {
		return
	}
	c.logger.WithLevel(s.LogLevel).Str("status", s.Name).Msg(s.String())
	c.broker.Notify(events.EventStatusChanged, s.String(),
		"status", s.Name,
		"severity", string(s.Severity),
	)
}

// Handle runs the handler for e and returns its result. It does not
// schedule follow-ups; the loop does.
func (c *Controller) Handle(ctx context.Context, e types.Event) (types.Result, error) {
	handler, ok := c.handlers[e.Type]
	if !ok {
		return types.ResultDone, fmt.Errorf("no handler for event %q", e.Type)
	}

	timer := metrics.NewTimer()
	result, err := handler(ctx, e)
	timer.ObserveDurationVec(metrics.ReconcileDuration, string(e.Type))

	label := result.String()
	if err != nil {
		label = "error"
	}
	metrics.EventsTotal.WithLabelValues(string(e.Type), label).Inc()
	return result, err
}
