package reconciler

import (
	"context"
	"time"

	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/google/uuid"
)

// action is a request served between events
type action struct {
	fn    func(ctx context.Context) (string, error)
	reply chan actionResult
}

type actionResult struct {
	out string
	err error
}

// Emit queues an event. An event type already queued or awaiting
// redelivery is not queued twice.
func (c *Controller) Emit(t types.EventType) {
	c.enqueue(types.Event{
		ID:        uuid.New().String(),
		Type:      t,
		CreatedAt: time.Now(),
	}, false)
}

func (c *Controller) enqueue(e types.Event, redelivery bool) {
	c.mu.Lock()
	if c.pending[e.Type] && !redelivery {
		c.mu.Unlock()
		return
	}
	c.pending[e.Type] = true
	c.mu.Unlock()

	c.queue <- e
}

// deferEvent redelivers e after DeferDelay
func (c *Controller) deferEvent(ctx context.Context, e types.Event) {
	c.mu.Lock()
	c.pending[e.Type] = true
	c.mu.Unlock()

	e.Attempt++
	c.logger.Debug().Str("event", string(e.Type)).Int("attempt", e.Attempt).Msg("Event deferred")
	c.broker.Notify(events.EventDeferred, string(e.Type), "event", string(e.Type))

	time.AfterFunc(c.opts.DeferDelay, func() {
		select {
		case <-ctx.Done():
		default:
			c.enqueue(e, true)
		}
	})
}

// Run drives the controller until ctx is done. It returns an error only
// for invariant violations.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.UpdateStatusInterval)
	defer ticker.Stop()

	c.logger.Info().Msg("Reconciler started")
	c.Emit(types.EventInstall)
	c.Emit(types.EventWorkloadReady)
	if c.cluster.IsLeader() {
		c.Emit(types.EventLeaderElected)
	}
	if c.tls.Enabled() {
		c.Emit(types.EventCertificatesChanged)
	}
	c.Emit(types.EventConfigChanged)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Reconciler stopped")
			return nil

		case <-ticker.C:
			c.Emit(types.EventUpdateStatus)

		case e := <-c.queue:
			if err := c.process(ctx, e); err != nil {
				return err
			}

		case a := <-c.actions:
			out, err := a.fn(ctx)
			a.reply <- actionResult{out: out, err: err}
		}
	}
}

func (c *Controller) process(ctx context.Context, e types.Event) error {
	c.mu.Lock()
	delete(c.pending, e.Type)
	c.mu.Unlock()

	logger := c.logger.With().Str("event", string(e.Type)).Str("id", e.ID).Logger()

	if e.Type == types.EventRestartRequested && c.lock != nil {
		release, ok := c.acquireRestartLock(ctx)
		if !ok {
			c.deferEvent(ctx, e)
			return nil
		}
		defer release()
	}

	result, err := c.Handle(ctx, e)
	if err != nil {
		if isFatal(err) {
			logger.Error().Err(err).Msg("Unrecoverable error")
			return err
		}
		logger.Error().Err(err).Msg("Event handler failed")
		return nil
	}

	switch result {
	case types.ResultDefer:
		c.deferEvent(ctx, e)
	case types.ResultContinue:
		c.Emit(types.EventConfigChanged)
	}
	logger.Debug().Str("result", result.String()).Msg("Event handled")
	c.broker.Notify(events.EventHandled, string(e.Type),
		"event", string(e.Type),
		"result", result.String(),
	)
	return nil
}

func (c *Controller) acquireRestartLock(ctx context.Context) (func(), bool) {
	acquired, err := c.lock.Acquire(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to acquire restart lock")
		return nil, false
	}
	if !acquired {
		metrics.RestartLockWaits.Inc()
		c.broker.Notify(events.EventRestartPostponed, "restart lock held by another unit")
		return nil, false
	}
	return func() {
		if err := c.lock.Release(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to release restart lock")
		}
	}, true
}

// do runs fn on the loop goroutine, between events
func (c *Controller) do(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	a := action{fn: fn, reply: make(chan actionResult, 1)}
	select {
	case c.actions <- a:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-a.reply:
		return r.out, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
