package k8s

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// Default election timings
const (
	DefaultLeaseDuration = 15 * time.Second
	DefaultRenewDeadline = 10 * time.Second
	DefaultRetryPeriod   = 2 * time.Second
)

// ElectionConfig configures a LeaderElector
type ElectionConfig struct {
	Namespace     string
	Name          string
	Identity      string
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *ElectionConfig) defaults() {
	if c.LeaseDuration == 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.RenewDeadline == 0 {
		c.RenewDeadline = DefaultRenewDeadline
	}
	if c.RetryPeriod == 0 {
		c.RetryPeriod = DefaultRetryPeriod
	}
}

// LeaderElector campaigns for the application Lease. It implements
// state.Leadership.
type LeaderElector struct {
	client  kubernetes.Interface
	config  ElectionConfig
	leading atomic.Bool

	// OnElected runs every time this replica becomes leader
	OnElected func()
}

// NewLeaderElector creates an elector; call Run to start campaigning
func NewLeaderElector(client kubernetes.Interface, config ElectionConfig) *LeaderElector {
	config.defaults()
	return &LeaderElector{
		client: client,
		config: config,
	}
}

// IsLeader reports whether this replica currently holds the Lease
func (l *LeaderElector) IsLeader() bool {
	return l.leading.Load()
}

// Identity returns the identity this replica campaigns with
func (l *LeaderElector) Identity() string {
	return l.config.Identity
}

// Run campaigns until ctx is done. Losing the Lease returns this replica
// to follower and it campaigns again.
func (l *LeaderElector) Run(ctx context.Context) error {
	logger := log.WithComponent("leader")

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock: &resourcelock.LeaseLock{
			LeaseMeta: metav1.ObjectMeta{
				Name:      l.config.Name,
				Namespace: l.config.Namespace,
			},
			Client: l.client.CoordinationV1(),
			LockConfig: resourcelock.ResourceLockConfig{
				Identity: l.config.Identity,
			},
		},
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(_ context.Context) {
				l.setLeading(true)
				logger.Info().Str("identity", l.config.Identity).Msg("This replica is the leader")
				if l.OnElected != nil {
					l.OnElected()
				}
			},
			OnStoppedLeading: func() {
				l.setLeading(false)
				logger.Info().Msg("This replica is not the leader anymore")
			},
			OnNewLeader: func(identity string) {
				logger.Debug().Str("leader", identity).Msg("Current leader")
			},
		},
		LeaseDuration:   l.config.LeaseDuration,
		RenewDeadline:   l.config.RenewDeadline,
		RetryPeriod:     l.config.RetryPeriod,
		Name:            l.config.Name,
		ReleaseOnCancel: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create leader elector: %w", err)
	}

	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}

func (l *LeaderElector) setLeading(v bool) {
	l.leading.Store(v)
	metrics.SetBool(metrics.IsLeader, v)
}
