package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/auth"
	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/k8s"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/render"
	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
)

func (c *Controller) onInstall(ctx context.Context, _ types.Event) (types.Result, error) {
	if !c.workload.Reachable(ctx) {
		return types.ResultDefer, nil
	}

	version := c.workload.Version(ctx)
	c.mu.Lock()
	c.version = version
	c.mu.Unlock()
	metrics.SetVersion(version)

	if err := c.formPeerGroup(ctx); err != nil {
		return types.ResultDone, err
	}

	// KARAPACE_* service link variables would override the registry's
	// own environment
	if c.links != nil {
		if err := c.links.Disable(ctx); err != nil {
			if errors.Is(err, k8s.ErrInvalidStatefulSet) {
				return types.ResultDone, &FatalError{Err: err}
			}
			c.logger.Warn().Err(err).Msg("Failed to disable service links")
		}
	}
	return types.ResultDone, nil
}

func (c *Controller) onWorkloadReady(ctx context.Context, _ types.Event) (types.Result, error) {
	formed, err := c.cluster.Formed(ctx)
	if err != nil {
		return types.ResultDone, err
	}
	if !formed {
		c.setStatus(types.StatusNoPeerGroup)
		return types.ResultDefer, nil
	}
	if !c.workload.Reachable(ctx) {
		c.setStatus(types.StatusContainerNotConnected)
		return types.ResultDefer, nil
	}

	if err := c.publishAddress(ctx); err != nil {
		return types.ResultDone, err
	}
	return c.ensureCredentials(ctx)
}

func (c *Controller) onConfigChanged(ctx context.Context, _ types.Event) (types.Result, error) {
	status, snap, err := c.readiness(ctx)
	if err != nil {
		return types.ResultDone, err
	}
	if !status.IsActive() {
		return types.ResultDefer, nil
	}

	desired := c.renderer.Desired(render.Input{
		Unit:  c.cluster.Unit(),
		Host:  c.opts.Host,
		Kafka: *snap.Kafka,
		TLS:   snap.TLS,
	})
	current := c.renderer.Current(ctx)
	changed := !current.Equal(desired)

	// Users go first so a failure here leaves the config untouched and the
	// next delivery still sees the difference
	if err := c.auth.UpdateClientUsers(ctx, c.connection(ctx, snap.TLS)); err != nil {
		return types.ResultDone, fmt.Errorf("failed to update client users: %w", err)
	}
	if err := c.auth.UpdateAdminUser(ctx); err != nil {
		return types.ResultDone, fmt.Errorf("failed to update admin user: %w", err)
	}

	pending, err := c.restartPending(ctx)
	if err != nil {
		return types.ResultDone, err
	}
	if changed {
		diff := render.Diff(current, desired)
		changes := make([]string, 0, len(diff))
		for _, d := range diff {
			changes = append(changes, d.String())
		}
		c.logger.Info().Strs("changes", changes).Msg("Updating config")

		// The marker outlives a failed restart; it is cleared by the
		// restart that picks the new config up
		if err := c.cluster.UpdateLocalData(ctx, map[string]string{types.KeyRestartPending: "true"}); err != nil {
			return types.ResultDone, fmt.Errorf("failed to record pending restart: %w", err)
		}
		if err := c.renderer.Apply(ctx, desired); err != nil {
			return types.ResultDone, err
		}
		c.broker.Notify(events.EventConfigApplied, "configuration updated",
			"changes", strconv.Itoa(len(diff)))
	}

	if changed || pending {
		if !changed {
			c.logger.Info().Msg("Retrying restart for an earlier config change")
		}
		if !c.restartLocked(ctx) {
			c.Emit(types.EventRestartRequested)
		}
	}

	c.setStatus(types.StatusActive)
	return types.ResultDone, nil
}

func (c *Controller) onUpdateStatus(ctx context.Context, _ types.Event) (types.Result, error) {
	status, _, err := c.readiness(ctx)
	if err != nil {
		return types.ResultDone, err
	}
	if !status.IsActive() {
		return types.ResultDone, nil
	}

	switch c.workload.State(ctx) {
	case workload.StateUnreachable:
		c.setStatus(types.StatusContainerNotConnected)
		return types.ResultDone, nil
	case workload.StateStopped:
		if !c.workload.Active(ctx) {
			c.setStatus(types.StatusServiceNotRunning)
			return types.ResultDone, nil
		}
	}

	if !c.kafka.Reachable(ctx) {
		c.setStatus(types.StatusKafkaNotConnected)
		return types.ResultDone, nil
	}
	c.setStatus(types.StatusActive)
	return types.ResultContinue, nil
}

// onRestartRequested never fails: a failed restart is logged and reported
// by the next status tick
func (c *Controller) onRestartRequested(ctx context.Context, _ types.Event) (types.Result, error) {
	if !c.Status().IsActive() {
		c.logger.Debug().Str("status", c.Status().Name).Msg("Restart skipped, unit not active")
		return types.ResultDone, nil
	}
	c.restart(ctx)
	return types.ResultDone, nil
}

func (c *Controller) onLeaderElected(ctx context.Context, _ types.Event) (types.Result, error) {
	if !c.cluster.IsLeader() {
		return types.ResultDone, nil
	}
	c.broker.Notify(events.EventLeaderElected, "unit elected leader", "unit", c.cluster.Unit())

	if err := c.formPeerGroup(ctx); err != nil {
		return types.ResultDone, err
	}
	if !c.workload.Reachable(ctx) {
		return types.ResultDefer, nil
	}
	result, err := c.ensureCredentials(ctx)
	if err != nil || result != types.ResultDone {
		return result, err
	}
	return types.ResultContinue, nil
}

func (c *Controller) onCertificatesChanged(ctx context.Context, _ types.Event) (types.Result, error) {
	if !c.tls.Enabled() {
		return types.ResultDone, nil
	}
	formed, err := c.cluster.Formed(ctx)
	if err != nil {
		return types.ResultDone, err
	}
	if !formed {
		return types.ResultDefer, nil
	}

	st, err := c.tls.State(ctx)
	if err != nil {
		return types.ResultDone, err
	}

	switch st {
	case tlsstate.StateNoCertificateRequested:
		if err := c.tls.Request(ctx); err != nil {
			return types.ResultDone, err
		}
		// collected on redelivery
		return types.ResultDefer, nil

	case tlsstate.StateRequestSent:
		ready, err := c.tls.Collect(ctx)
		if err != nil {
			return types.ResultDone, err
		}
		if !ready {
			return types.ResultDefer, nil
		}
		fallthrough

	case tlsstate.StateCertificateReceived:
		if !c.workload.Reachable(ctx) {
			return types.ResultDefer, nil
		}
		if err := c.tls.Install(ctx); err != nil {
			return types.ResultDone, err
		}
		c.broker.Notify(events.EventCertInstalled, "certificate installed", "unit", c.cluster.Unit())
		return types.ResultContinue, nil

	default:
		if c.tls.NeedsRotation(ctx) {
			c.logger.Info().Msg("Certificate close to expiry, requesting a new one")
			if err := c.tls.Request(ctx); err != nil {
				return types.ResultDone, err
			}
			return types.ResultDefer, nil
		}
		return types.ResultDone, nil
	}
}

// ensureCredentials provisions existing credentials, or creates them on
// the leader. Followers without credentials wait for the leader.
func (c *Controller) ensureCredentials(ctx context.Context) (types.Result, error) {
	creds, err := c.cluster.AdminCredentials(ctx)
	if err != nil {
		return types.ResultDone, err
	}
	switch {
	case creds != nil:
		if err := c.auth.UpdateAdminUser(ctx); err != nil {
			return types.ResultDone, err
		}
	case c.cluster.IsLeader():
		if err := c.auth.CreateInternalUser(ctx); err != nil {
			return types.ResultDone, err
		}
	default:
		c.logger.Debug().Msg("Waiting for the leader to create internal credentials")
		return types.ResultDefer, nil
	}
	return types.ResultDone, nil
}

func (c *Controller) formPeerGroup(ctx context.Context) error {
	if !c.cluster.IsLeader() {
		return nil
	}
	formed, err := c.cluster.Formed(ctx)
	if err != nil || formed {
		return err
	}
	if err := c.cluster.Form(ctx); err != nil {
		return fmt.Errorf("failed to form peer group: %w", err)
	}
	c.logger.Info().Msg("Peer group formed")
	return nil
}

func (c *Controller) publishAddress(ctx context.Context) error {
	if c.opts.Host == "" {
		return nil
	}
	data, err := c.cluster.LocalData(ctx)
	if err != nil {
		return err
	}
	if data[types.KeyPrivateAddress] == c.opts.Host {
		return nil
	}
	return c.cluster.UpdateLocalData(ctx, map[string]string{types.KeyPrivateAddress: c.opts.Host})
}

// connection is what client relations are told about the registry
func (c *Controller) connection(ctx context.Context, tls bool) auth.Connection {
	port := strconv.Itoa(c.opts.Port)
	var endpoints []string

	units, err := c.cluster.Units(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list units")
	}
	for _, unit := range units {
		data, err := c.cluster.UnitData(ctx, unit)
		if err != nil {
			continue
		}
		if addr := data[types.KeyPrivateAddress]; addr != "" {
			endpoints = append(endpoints, net.JoinHostPort(addr, port))
		}
	}
	if len(endpoints) == 0 && c.opts.Host != "" {
		endpoints = append(endpoints, net.JoinHostPort(c.opts.Host, port))
	}
	sort.Strings(endpoints)

	conn := auth.Connection{
		Endpoints: strings.Join(endpoints, ","),
		TLS:       tls,
	}
	if tls {
		if mat, err := c.tls.Material(ctx); err == nil {
			conn.CA = mat.CA
		}
	}
	return conn
}

// restartLocked restarts under the rolling restart lock. It returns false
// when the lock could not be taken.
func (c *Controller) restartLocked(ctx context.Context) bool {
	if c.lock == nil {
		c.restart(ctx)
		return true
	}
	release, ok := c.acquireRestartLock(ctx)
	if !ok {
		return false
	}
	defer release()
	c.restart(ctx)
	return true
}

// restartPending reports a config write whose restart has not happened yet
func (c *Controller) restartPending(ctx context.Context) (bool, error) {
	data, err := c.cluster.LocalData(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read unit data: %w", err)
	}
	return data[types.KeyRestartPending] != "", nil
}

func (c *Controller) restart(ctx context.Context) {
	if err := c.workload.Restart(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Restart failed")
		return
	}
	metrics.RestartsTotal.Inc()

	if pending, err := c.restartPending(ctx); err == nil && pending {
		// An empty value removes the key
		if err := c.cluster.UpdateLocalData(ctx, map[string]string{types.KeyRestartPending: ""}); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to clear pending restart")
		}
	}

	if !c.workload.Active(ctx) {
		c.logger.Error().Msg("Service not active after restart")
		return
	}
	c.logger.Info().Msg("Service restarted")
	c.broker.Notify(events.EventRestarted, "service restarted", "unit", c.cluster.Unit())
}

// isFatal reports invariant violations that must stop the loop
func isFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// FatalError marks an error the loop must not survive
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
