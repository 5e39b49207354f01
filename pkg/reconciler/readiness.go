package reconciler

import (
	"context"
	"fmt"

	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
)

// Snapshot is the external state readiness is decided on
type Snapshot struct {
	PeerGroup bool

	// Kafka is nil when there is no Kafka relation
	Kafka *types.KafkaDescriptor

	// TLS is true when this service serves TLS
	TLS bool

	Credentials bool

	CertificateInstalled bool
}

// Readiness returns the first failing condition in priority order, or
// StatusActive when every condition holds
func Readiness(s Snapshot) types.Status {
	switch {
	case !s.PeerGroup:
		return types.StatusNoPeerGroup
	case s.Kafka == nil:
		return types.StatusKafkaNotRelated
	case !s.Kafka.Complete():
		return types.StatusKafkaNoData
	case s.TLS != s.Kafka.TLS:
		return types.StatusKafkaTLSMismatch
	case !s.Credentials:
		return types.StatusNoCreds
	case s.TLS && !s.CertificateInstalled:
		return types.StatusNoCert
	default:
		return types.StatusActive
	}
}

// snapshot reads the current external state
func (c *Controller) snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	var err error

	if s.PeerGroup, err = c.cluster.Formed(ctx); err != nil {
		return s, fmt.Errorf("failed to read peer group: %w", err)
	}
	if s.Kafka, err = c.relations.Kafka(ctx); err != nil {
		return s, fmt.Errorf("failed to read kafka relation: %w", err)
	}
	creds, err := c.cluster.AdminCredentials(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read credentials: %w", err)
	}
	s.Credentials = creds != nil

	s.TLS = c.tls.Enabled()
	if s.TLS {
		st, err := c.tls.State(ctx)
		if err != nil {
			return s, fmt.Errorf("failed to read tls state: %w", err)
		}
		s.CertificateInstalled = st == tlsstate.StateInstalled
	}
	return s, nil
}

// readiness evaluates the predicate and publishes a failing status. A
// passing predicate leaves the status alone; handlers set ACTIVE once their
// own work has succeeded.
func (c *Controller) readiness(ctx context.Context) (types.Status, Snapshot, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return types.Status{}, s, err
	}
	status := Readiness(s)
	if !status.IsActive() {
		c.setStatus(status)
	}
	return status, s, nil
}
