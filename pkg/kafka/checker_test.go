package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/karapace-operator/pkg/health"
	"github.com/cuemby/karapace-operator/pkg/relation"
	"github.com/cuemby/karapace-operator/pkg/retry"
	"github.com/cuemby/karapace-operator/pkg/security"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{Delay: time.Millisecond, Attempts: 3}

func descriptor() *types.KafkaDescriptor {
	return &types.KafkaDescriptor{
		Endpoints:           "kafka-0:9092, kafka-1:9092",
		Username:            "karapace",
		Password:            "test",
		SecurityProtocol:    "SASL_PLAINTEXT",
		ConsumerGroupPrefix: "schema-registry",
		Topic:               "_schemas",
	}
}

type staticMaterial types.TLSMaterial

func (m staticMaterial) Material(context.Context) (types.TLSMaterial, error) {
	return types.TLSMaterial(m), nil
}

func TestReachable(t *testing.T) {
	var got Config
	calls := 0
	c := NewChecker(relation.NewStatic(descriptor()), nil).
		WithPolicy(fastPolicy).
		WithProbe(func(_ context.Context, cfg Config) error {
			calls++
			got = cfg
			return nil
		})

	assert.True(t, c.Reachable(context.Background()))
	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, got.Servers)
	assert.Equal(t, "_schemas", got.Topic)
	assert.Nil(t, got.TLS)

	assert.True(t, c.Reachable(context.Background()))
	assert.Equal(t, 1, calls, "second call is served from the cache")

	c.Invalidate()
	assert.True(t, c.Reachable(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestUnreachableRetriesAndNeverErrors(t *testing.T) {
	calls := 0
	c := NewChecker(relation.NewStatic(descriptor()), nil).
		WithPolicy(fastPolicy).
		WithCacheTTL(0).
		WithProbe(func(context.Context, Config) error {
			calls++
			return errors.New("sasl authentication failed")
		})

	assert.False(t, c.Reachable(context.Background()))
	assert.Equal(t, 3, calls)

	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, health.CheckTypeKafka, c.Type())
}

func TestRecoversWithinBound(t *testing.T) {
	calls := 0
	c := NewChecker(relation.NewStatic(descriptor()), nil).
		WithPolicy(fastPolicy).
		WithProbe(func(context.Context, Config) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})

	assert.True(t, c.Reachable(context.Background()))
}

func TestNotRelated(t *testing.T) {
	probed := false
	probe := func(context.Context, Config) error { probed = true; return nil }

	c := NewChecker(relation.NewStatic(nil), nil).WithProbe(probe)
	assert.False(t, c.Reachable(context.Background()))

	partial := descriptor()
	partial.Password = ""
	c = NewChecker(relation.NewStatic(partial), nil).WithProbe(probe)
	assert.False(t, c.Reachable(context.Background()))
	assert.False(t, probed)
}

func TestTLSConfig(t *testing.T) {
	ca := security.NewCertAuthority(nil)
	require.NoError(t, ca.Initialize("Kafka CA"))
	key, err := security.GenerateKey(1024)
	require.NoError(t, err)
	csr, err := security.CreateCSR(key, "karapace-0", nil)
	require.NoError(t, err)
	cert, err := ca.SignCSR(csr)
	require.NoError(t, err)

	desc := descriptor()
	desc.TLS = true
	desc.SecurityProtocol = "SASL_SSL"

	var got Config
	c := NewChecker(relation.NewStatic(desc), staticMaterial{
		CA:          string(ca.RootPEM()),
		Certificate: string(cert),
		PrivateKey:  string(key),
	}).WithProbe(func(_ context.Context, cfg Config) error {
		got = cfg
		return nil
	})

	require.True(t, c.Reachable(context.Background()))
	require.NotNil(t, got.TLS)
	assert.NotNil(t, got.TLS.RootCAs)
	assert.Len(t, got.TLS.Certificates, 1)

	_, err = tlsConfig("not a pem", types.TLSMaterial{})
	assert.Error(t, err)
}

func TestProbeNoServers(t *testing.T) {
	err := Probe(context.Background(), Config{Username: "u", Password: "p", Timeout: time.Second})
	assert.Error(t, err)
}
