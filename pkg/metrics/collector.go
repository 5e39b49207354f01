package metrics

import (
	"context"
	"time"
)

// Sample is a point-in-time view of the replica
type Sample struct {
	Leader          bool
	WorkloadUp      bool
	PeerUnits       int
	ClientRelations int
}

// Sampler produces samples for the collector
type Sampler interface {
	Sample(ctx context.Context) Sample
}

// Collector periodically copies samples into the gauges
type Collector struct {
	sampler  Sampler
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(sampler Sampler, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		sampler:  sampler,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	s := c.sampler.Sample(ctx)
	SetBool(IsLeader, s.Leader)
	SetBool(WorkloadUp, s.WorkloadUp)
	PeerUnits.Set(float64(s.PeerUnits))
	ClientRelations.Set(float64(s.ClientRelations))
}
