package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/karapace-operator/pkg/auth"
	"github.com/cuemby/karapace-operator/pkg/events"
	"github.com/cuemby/karapace-operator/pkg/health"
	"github.com/cuemby/karapace-operator/pkg/k8s"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/relation"
	"github.com/cuemby/karapace-operator/pkg/render"
	"github.com/cuemby/karapace-operator/pkg/retry"
	"github.com/cuemby/karapace-operator/pkg/state"
	"github.com/cuemby/karapace-operator/pkg/storage"
	"github.com/cuemby/karapace-operator/pkg/tlsstate"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
	"github.com/cuemby/karapace-operator/pkg/workload/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

type stubKafka struct{ up atomic.Bool }

func (s *stubKafka) Reachable(context.Context) bool { return s.up.Load() }

type stubLinks struct {
	calls int
	err   error
}

func (s *stubLinks) Disable(context.Context) error {
	s.calls++
	return s.err
}

type stubLock struct {
	mu       sync.Mutex
	free     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.free {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *stubLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

// pendingProvider never issues a certificate
type pendingProvider struct{}

func (pendingProvider) Submit(context.Context, string, []byte) error { return nil }
func (pendingProvider) Fetch(context.Context, string, []byte) ([]byte, []byte, bool, error) {
	return nil, nil, false, nil
}

type fixture struct {
	store     storage.Store
	runtime   *fake.Runtime
	relations *relation.Static
	kafka     *stubKafka
	links     *stubLinks
	lock      *stubLock
	leader    atomic.Bool
	cluster   *state.Cluster
	broker    *events.Broker
	ctrl      *Controller
}

type fixtureOptions struct {
	leader bool
	formed bool
	tls    bool
	lock   bool
}

func completeKafka() *types.KafkaDescriptor {
	return &types.KafkaDescriptor{
		Endpoints:           "kafka-0:9092,kafka-1:9092",
		Username:            "karapace",
		Password:            "kafka-password",
		SecurityProtocol:    "SASL_PLAINTEXT",
		ConsumerGroupPrefix: "schema-registry",
		Topic:               "_schemas",
	}
}

func newFixture(t *testing.T, o fixtureOptions) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if o.formed {
		require.NoError(t, store.Form(context.Background()))
	}

	f := &fixture{
		store:     store,
		runtime:   fake.NewRuntime(),
		relations: relation.NewStatic(completeKafka()),
		kafka:     &stubKafka{},
		links:     &stubLinks{},
		broker:    events.NewBroker(),
	}
	f.leader.Store(o.leader)
	f.kafka.up.Store(true)
	f.broker.Start()
	t.Cleanup(f.broker.Stop)

	f.cluster = state.New(store, "karapace-0", state.LeaderFunc(f.leader.Load))
	w := workload.New(f.runtime).WithActivePolicy(retry.Policy{Delay: time.Millisecond, Attempts: 2})

	var provider tlsstate.Provider
	if o.tls {
		provider = pendingProvider{}
	}
	deps := Deps{
		Cluster:      f.cluster,
		Workload:     w,
		Relations:    f.relations,
		Auth:         auth.New(f.cluster, w, f.relations),
		TLS:          tlsstate.New(f.cluster, w, provider, tlsstate.Options{Enabled: o.tls}),
		Renderer:     render.New(w, render.Options{}),
		Kafka:        f.kafka,
		ServiceLinks: f.links,
		Broker:       f.broker,
	}
	if o.lock {
		f.lock = &stubLock{free: true}
		deps.RestartLock = f.lock
	}
	f.ctrl = New(deps, Options{
		Host:                 "10.0.0.4",
		DeferDelay:           20 * time.Millisecond,
		UpdateStatusInterval: time.Hour,
	})
	return f
}

func (f *fixture) handle(t *testing.T, et types.EventType) types.Result {
	t.Helper()
	result, err := f.ctrl.Handle(context.Background(), types.Event{Type: et})
	require.NoError(t, err)
	return result
}

// ready brings the unit to a state where every readiness condition holds
func (f *fixture) ready(t *testing.T) {
	t.Helper()
	require.Equal(t, types.ResultDone, f.handle(t, types.EventWorkloadReady))
}

func TestReadiness(t *testing.T) {
	partial := &types.KafkaDescriptor{Endpoints: "kafka-0:9092"}
	plain := completeKafka()
	withTLS := completeKafka()
	withTLS.TLS = true
	withTLS.SecurityProtocol = "SASL_SSL"
	noProtocol := completeKafka()
	noProtocol.SecurityProtocol = ""
	noGroup := completeKafka()
	noGroup.ConsumerGroupPrefix = ""

	tests := []struct {
		name string
		snap Snapshot
		want types.Status
	}{
		{"nothing", Snapshot{}, types.StatusNoPeerGroup},
		{"no peer group outranks everything", Snapshot{Kafka: plain, Credentials: true}, types.StatusNoPeerGroup},
		{"no kafka", Snapshot{PeerGroup: true, Credentials: true}, types.StatusKafkaNotRelated},
		{"partial kafka", Snapshot{PeerGroup: true, Kafka: partial, Credentials: true}, types.StatusKafkaNoData},
		{"kafka without security protocol", Snapshot{PeerGroup: true, Kafka: noProtocol, Credentials: true}, types.StatusKafkaNoData},
		{"kafka without consumer group prefix", Snapshot{PeerGroup: true, Kafka: noGroup, Credentials: true}, types.StatusKafkaNoData},
		{"partial kafka outranks tls mismatch", Snapshot{PeerGroup: true, Kafka: partial, TLS: true}, types.StatusKafkaNoData},
		{"tls here only", Snapshot{PeerGroup: true, Kafka: plain, TLS: true, Credentials: true, CertificateInstalled: true}, types.StatusKafkaTLSMismatch},
		{"tls on kafka only", Snapshot{PeerGroup: true, Kafka: withTLS, Credentials: true}, types.StatusKafkaTLSMismatch},
		{"mismatch outranks credentials", Snapshot{PeerGroup: true, Kafka: plain, TLS: true}, types.StatusKafkaTLSMismatch},
		{"no credentials", Snapshot{PeerGroup: true, Kafka: plain}, types.StatusNoCreds},
		{"no certificate", Snapshot{PeerGroup: true, Kafka: withTLS, TLS: true, Credentials: true}, types.StatusNoCert},
		{"ready", Snapshot{PeerGroup: true, Kafka: plain, Credentials: true}, types.StatusActive},
		{"ready with tls", Snapshot{PeerGroup: true, Kafka: withTLS, TLS: true, Credentials: true, CertificateInstalled: true}, types.StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Readiness(tt.snap))
		})
	}
}

func TestInstall(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventInstall))
	assert.Equal(t, "3.4.6", f.ctrl.Version())
	assert.Equal(t, 1, f.links.calls)

	formed, err := f.cluster.Formed(context.Background())
	require.NoError(t, err)
	assert.True(t, formed, "leader forms the peer group on install")
}

func TestInstallDefersWhenUnreachable(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})
	f.runtime.SetConnected(false)

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventInstall))
	assert.Equal(t, 0, f.links.calls)
}

func TestInstallInvalidStatefulSetIsFatal(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})
	f.links.err = k8s.ErrInvalidStatefulSet

	_, err := f.ctrl.Handle(context.Background(), types.Event{Type: types.EventInstall})
	require.Error(t, err)
	assert.True(t, isFatal(err))
	assert.ErrorIs(t, err, k8s.ErrInvalidStatefulSet)
}

func TestInstallToleratesServiceLinkFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"statefulset not found", apierrors.NewNotFound(schema.GroupResource{Group: "apps", Resource: "statefulsets"}, "karapace")},
		{"api server unavailable", apierrors.NewServiceUnavailable("etcd leader changed")},
		{"plain error", errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{leader: true})
			f.links.err = tt.err

			result, err := f.ctrl.Handle(context.Background(), types.Event{Type: types.EventInstall})
			require.NoError(t, err)
			assert.Equal(t, types.ResultDone, result)
			assert.Equal(t, 1, f.links.calls)
		})
	}
}

func TestWorkloadReadyWithoutPeerGroup(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventWorkloadReady))
	assert.Equal(t, types.StatusNoPeerGroup, f.ctrl.Status())
}

func TestWorkloadReadyContainerNotConnected(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.runtime.SetConnected(false)

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventWorkloadReady))
	assert.Equal(t, types.StatusContainerNotConnected, f.ctrl.Status())
}

func TestWorkloadReadyFollowerWaitsForLeader(t *testing.T) {
	f := newFixture(t, fixtureOptions{formed: true})

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventWorkloadReady))

	data, err := f.cluster.AppData(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data, "a follower never writes credentials")
	assert.Equal(t, 0, f.runtime.CommandCount("karapace_mkpasswd"))
}

func TestWorkloadReadyLeaderCreatesCredentialsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{leader: true, formed: true})

	f.ready(t)
	creds, err := f.cluster.AdminCredentials(ctx)
	require.NoError(t, err)
	require.NotNil(t, creds)

	f.ready(t)
	again, err := f.cluster.AdminCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, creds.Password, again.Password)

	local, err := f.cluster.LocalData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.4", local[types.KeyPrivateAddress])
}

func TestWorkloadReadyFollowerProvisionsExistingCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)

	f.leader.Store(false)
	f.runtime.PutFile(types.AuthFile, "")
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventWorkloadReady))

	content, ok := f.runtime.File(types.AuthFile)
	require.True(t, ok)
	assert.Contains(t, content, types.AdminUser)

	_, err := f.cluster.AdminCredentials(ctx)
	require.NoError(t, err)
}

func TestConfigChangedWithoutKafka(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.relations.SetKafka(nil)

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, types.StatusKafkaNotRelated, f.ctrl.Status())
	_, written := f.runtime.File(types.ConfFile)
	assert.False(t, written, "nothing is written before readiness")
}

func TestConfigChangedRestartsOnlyOnChange(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, types.StatusActive, f.ctrl.Status())
	assert.Equal(t, 1, f.runtime.Restarts)

	content, ok := f.runtime.File(types.ConfFile)
	require.True(t, ok)
	assert.Contains(t, content, `"bootstrap_uri": "kafka-0:9092,kafka-1:9092"`)

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 1, f.runtime.Restarts, "unchanged config must not restart")

	kafka := completeKafka()
	kafka.Endpoints = "kafka-2:9092"
	f.relations.SetKafka(kafka)
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 2, f.runtime.Restarts)
}

func TestConfigChangedPublishesClientCredentials(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	f.relations.AddClient(types.ClientRelation{ID: "5000", App: "app", Subject: "orders", Role: relation.RoleUser})

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))

	published := f.relations.Published("5000")
	require.NotNil(t, published)
	assert.Equal(t, "relation-5000", published[relation.KeyUsername])
	assert.NotEmpty(t, published[relation.KeyPassword])
	assert.Equal(t, "10.0.0.4:8081", published[relation.KeyEndpoints])
}

func TestConfigChangedWaitsForRestartLock(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true, lock: true})
	f.ready(t)
	f.lock.free = false

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 0, f.runtime.Restarts)
	assert.Equal(t, types.StatusActive, f.ctrl.Status())

	select {
	case e := <-f.ctrl.queue:
		assert.Equal(t, types.EventRestartRequested, e.Type)
	default:
		t.Fatal("restart was not queued")
	}
}

func TestConfigChangedReleasesRestartLock(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true, lock: true})
	f.ready(t)

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 1, f.runtime.Restarts)
	assert.Equal(t, 1, f.lock.acquired)
	assert.Equal(t, 1, f.lock.released)
}

func TestConfigChangedUserFailureKeepsConfigPending(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	f.runtime.OnExec("karapace_mkpasswd", func(args []string, _ map[string]string) (string, error) {
		return "", &workload.ExecError{Command: args, ExitCode: 1, Output: "hashing failed"}
	})

	_, err := f.ctrl.Handle(context.Background(), types.Event{Type: types.EventConfigChanged})
	require.Error(t, err)
	assert.False(t, f.ctrl.Status().IsActive(), "a failed reconcile does not report active")
	_, written := f.runtime.File(types.ConfFile)
	assert.False(t, written, "config is not written while users cannot be provisioned")
	assert.Equal(t, 0, f.runtime.Restarts)

	f.runtime.OnExec("karapace_mkpasswd", fake.Mkpasswd)
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, types.StatusActive, f.ctrl.Status())
	assert.Equal(t, 1, f.runtime.Restarts, "the recovered run restarts for the new config")
	_, written = f.runtime.File(types.ConfFile)
	assert.True(t, written)
}

func TestConfigChangedRetriesFailedRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	f.runtime.FailRestarts(errors.New("restart refused"))

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 0, f.runtime.Restarts)
	local, err := f.cluster.LocalData(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, local[types.KeyRestartPending])

	// Config already matches; only the pending marker asks for the restart
	f.runtime.FailRestarts(nil)
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 1, f.runtime.Restarts)
	local, err = f.cluster.LocalData(ctx)
	require.NoError(t, err)
	assert.NotContains(t, local, types.KeyRestartPending)

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, 1, f.runtime.Restarts, "a cleared marker does not restart again")
}

func TestTLSMismatch(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true, tls: true})
	f.ready(t)

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, types.StatusKafkaTLSMismatch, f.ctrl.Status())
}

func TestCertificatesChangedRequestsThenWaits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{leader: true, formed: true, tls: true})

	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventCertificatesChanged))
	mat, err := f.cluster.LocalData(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, mat[types.KeyCSR])
	assert.NotEmpty(t, mat[types.KeyPrivateKey])

	// provider never issues: keep waiting
	assert.Equal(t, types.ResultDefer, f.handle(t, types.EventCertificatesChanged))
}

func TestCertificatesChangedDisabled(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventCertificatesChanged))
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		result types.Result
		status types.Status
	}{
		{"healthy", func(*fixture) {}, types.ResultContinue, types.StatusActive},
		{"kafka down", func(f *fixture) { f.kafka.up.Store(false) }, types.ResultDone, types.StatusKafkaNotConnected},
		{"service stopped", func(f *fixture) { f.runtime.SetUp(false) }, types.ResultDone, types.StatusServiceNotRunning},
		{"container gone", func(f *fixture) { f.runtime.SetConnected(false) }, types.ResultDone, types.StatusContainerNotConnected},
		{"kafka relation broken", func(f *fixture) { f.relations.SetKafka(nil) }, types.ResultDone, types.StatusKafkaNotRelated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{leader: true, formed: true})
			f.ready(t)
			require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))

			tt.setup(f)
			assert.Equal(t, tt.result, f.handle(t, types.EventUpdateStatus))
			assert.Equal(t, tt.status, f.ctrl.Status())
		})
	}
}

func TestUpdateStatusStoppedServiceNeverReportsActive(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))

	f.runtime.SetUp(false)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventUpdateStatus))
	require.Equal(t, types.StatusServiceNotRunning, f.ctrl.Status())

	sub := f.broker.Subscribe(events.EventStatusChanged)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventUpdateStatus))
	assert.Equal(t, types.StatusServiceNotRunning, f.ctrl.Status())

	select {
	case e := <-sub:
		t.Fatalf("unexpected status change to %s", e.Metadata["status"])
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUpdateStatusRecoversToActive(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))

	f.kafka.up.Store(false)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventUpdateStatus))
	require.Equal(t, types.StatusKafkaNotConnected, f.ctrl.Status())

	f.kafka.up.Store(true)
	assert.Equal(t, types.ResultContinue, f.handle(t, types.EventUpdateStatus))
	assert.Equal(t, types.StatusActive, f.ctrl.Status())
}

func TestUpdateStatusSelfReconcileDoesNotRestart(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	require.Equal(t, 1, f.runtime.Restarts)

	require.Equal(t, types.ResultContinue, f.handle(t, types.EventUpdateStatus))
	require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, types.StatusActive, f.ctrl.Status())
	assert.Equal(t, 1, f.runtime.Restarts)
}

func TestRestartRequestedOnlyWhenActive(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})

	assert.Equal(t, types.ResultDone, f.handle(t, types.EventRestartRequested))
	assert.Equal(t, 0, f.runtime.Restarts)

	f.ready(t)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventRestartRequested))
	assert.Equal(t, 2, f.runtime.Restarts)
}

func TestRestartRequestedSwallowsFailures(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	require.Equal(t, types.ResultDone, f.handle(t, types.EventConfigChanged))

	f.runtime.SetConnected(false)
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventRestartRequested))
}

func TestLeaderElected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{leader: true})

	assert.Equal(t, types.ResultContinue, f.handle(t, types.EventLeaderElected))
	formed, err := f.cluster.Formed(ctx)
	require.NoError(t, err)
	assert.True(t, formed)
	creds, err := f.cluster.AdminCredentials(ctx)
	require.NoError(t, err)
	assert.NotNil(t, creds)
}

func TestLeaderElectedOnFollower(t *testing.T) {
	f := newFixture(t, fixtureOptions{formed: true})
	assert.Equal(t, types.ResultDone, f.handle(t, types.EventLeaderElected))
}

func TestHandleUnknownEvent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.ctrl.Handle(context.Background(), types.Event{Type: "bogus"})
	assert.Error(t, err)
}

func TestStatusChangesArePublished(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})
	sub := f.broker.Subscribe()

	f.handle(t, types.EventWorkloadReady)

	select {
	case e := <-sub:
		assert.Equal(t, events.EventStatusChanged, e.Type)
		assert.Equal(t, "NO_PEER_GROUP", e.Metadata["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("status change not published")
	}
}

func runController(t *testing.T, f *fixture) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRunReachesActive(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})
	runController(t, f)

	require.Eventually(t, func() bool {
		return f.ctrl.Status().IsActive()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.links.calls)
}

func TestRunRedeliversDeferredEvents(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})
	f.relations.SetKafka(nil)
	runController(t, f)

	require.Eventually(t, func() bool {
		return f.ctrl.Status() == types.StatusKafkaNotRelated
	}, 5*time.Second, 10*time.Millisecond)

	f.relations.SetKafka(completeKafka())
	require.Eventually(t, func() bool {
		return f.ctrl.Status().IsActive()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunStopsOnFatalError(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true})
	f.links.err = k8s.ErrInvalidStatefulSet

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, k8s.ErrInvalidStatefulSet)
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOptions{leader: true})
	runController(t, f)
	require.Eventually(t, func() bool {
		return f.ctrl.Status().IsActive()
	}, 5*time.Second, 10*time.Millisecond)

	password, err := f.ctrl.GetPassword(ctx)
	require.NoError(t, err)
	assert.Len(t, password, 32)

	rotated, err := f.ctrl.SetPassword(ctx, "", "newAdminPassword1")
	require.NoError(t, err)
	assert.Equal(t, "newAdminPassword1", rotated)

	current, err := f.ctrl.GetPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newAdminPassword1", current)

	_, err = f.ctrl.SetPassword(ctx, "", "not safe!")
	assert.ErrorIs(t, err, auth.ErrUnsafePassword)

	err = f.ctrl.SetTLSPrivateKey(ctx, "key")
	assert.ErrorIs(t, err, tlsstate.ErrDisabled)
}

func TestSetPasswordOnFollower(t *testing.T) {
	f := newFixture(t, fixtureOptions{formed: true})
	runController(t, f)

	_, err := f.ctrl.SetPassword(context.Background(), "", "")
	assert.True(t, errors.Is(err, ErrLeaderOnly))
}

func TestActionHonoursContext(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.ctrl.GetPassword(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSample(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	f.relations.AddClient(types.ClientRelation{ID: "1", Role: relation.RoleAdmin})

	s := f.ctrl.Sample(context.Background())
	assert.True(t, s.Leader)
	assert.True(t, s.WorkloadUp)
	assert.Equal(t, 1, s.PeerUnits)
	assert.Equal(t, 1, s.ClientRelations)
}

type stubProbe struct{ healthy atomic.Bool }

func (p *stubProbe) Check(context.Context) health.Result {
	if p.healthy.Load() {
		return health.Result{Healthy: true, Message: "200 OK"}
	}
	return health.Result{Healthy: false, Message: "connection refused"}
}

func (p *stubProbe) Type() health.CheckType { return health.CheckTypeHTTP }

func TestSampleRegistryProbe(t *testing.T) {
	f := newFixture(t, fixtureOptions{leader: true, formed: true})
	f.ready(t)
	probe := &stubProbe{}
	f.ctrl.probe = probe
	f.ctrl.probeTracker = health.NewTracker(health.Config{Retries: 2})

	ctx := context.Background()
	f.ctrl.Sample(ctx)
	assert.Equal(t, "healthy", metrics.GetHealth().Components["registry"], "one failure is tolerated")

	f.ctrl.Sample(ctx)
	assert.Equal(t, "unhealthy: connection refused", metrics.GetHealth().Components["registry"])

	probe.healthy.Store(true)
	f.ctrl.Sample(ctx)
	assert.Equal(t, "healthy", metrics.GetHealth().Components["registry"])
}
