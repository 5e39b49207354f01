package reconciler

import (
	"context"

	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/workload"
)

// Sample implements metrics.Sampler. It reads state only and never
// touches the event queue. Sample is called from a single collector
// goroutine.
func (c *Controller) Sample(ctx context.Context) metrics.Sample {
	st := c.workload.State(ctx)
	s := metrics.Sample{
		Leader:     c.cluster.IsLeader(),
		WorkloadUp: st == workload.StateRunning,
	}
	if units, err := c.cluster.Units(ctx); err == nil {
		s.PeerUnits = len(units)
	}
	if clients, err := c.relations.Clients(ctx); err == nil {
		s.ClientRelations = len(clients)
	}

	metrics.UpdateComponent("workload", s.WorkloadUp, string(st))
	kafkaUp := c.kafka.Reachable(ctx)
	message := "reachable"
	if !kafkaUp {
		message = "unreachable"
	}
	metrics.UpdateComponent("kafka", kafkaUp, message)

	if c.probe != nil {
		res := c.probe.Check(ctx)
		healthy := c.probeTracker.Observe(res)
		metrics.UpdateComponent("registry", healthy, res.Message)
	}
	return s
}
