package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticSampler Sample

func (s staticSampler) Sample(context.Context) Sample { return Sample(s) }

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(staticSampler{Leader: true, WorkloadUp: false, PeerUnits: 3, ClientRelations: 2}, time.Second)
	c.collect()

	if got := testutil.ToFloat64(IsLeader); got != 1 {
		t.Errorf("IsLeader = %v, want 1", got)
	}
	if got := testutil.ToFloat64(WorkloadUp); got != 0 {
		t.Errorf("WorkloadUp = %v, want 0", got)
	}
	if got := testutil.ToFloat64(PeerUnits); got != 3 {
		t.Errorf("PeerUnits = %v, want 3", got)
	}
	if got := testutil.ToFloat64(ClientRelations); got != 2 {
		t.Errorf("ClientRelations = %v, want 2", got)
	}
}

func TestCollectorDefaultInterval(t *testing.T) {
	c := NewCollector(staticSampler{}, 0)
	if c.interval != 15*time.Second {
		t.Errorf("interval = %v, want 15s", c.interval)
	}
	c.Start()
	c.Stop()
}

func TestSetStatus(t *testing.T) {
	SetStatus("KAFKA_NOT_RELATED", "blocked")
	SetStatus("ACTIVE", "active")

	if got := testutil.ToFloat64(Status.WithLabelValues("ACTIVE", "active")); got != 1 {
		t.Errorf("ACTIVE = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(Status); n != 1 {
		t.Errorf("status series = %d, want 1", n)
	}
}

func TestTimer(t *testing.T) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_handler_duration_seconds",
		Help: "test",
	}, []string{"type"})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	first := timer.Duration()
	if first < 10*time.Millisecond {
		t.Errorf("duration = %v, want >= 10ms", first)
	}
	if second := timer.Duration(); second < first {
		t.Errorf("durations went backwards: %v then %v", first, second)
	}

	timer.ObserveDurationVec(h, "config_changed")
	timer.ObserveDuration(h.WithLabelValues("update_status"))
	if n := testutil.CollectAndCount(h); n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestSetBool(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_bool", Help: "test"})
	SetBool(g, true)
	if got := testutil.ToFloat64(g); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
	SetBool(g, false)
	if got := testutil.ToFloat64(g); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}
}
