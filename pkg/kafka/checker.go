package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/karapace-operator/pkg/health"
	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/retry"
	"github.com/cuemby/karapace-operator/pkg/types"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/scram"
)

var (
	// DefaultPolicy bounds the reachability probe
	DefaultPolicy = retry.Policy{Delay: time.Second, Attempts: 3}

	// DefaultCacheTTL is how long a probe result is reused
	DefaultCacheTTL = 10 * time.Second

	errNotRelated = errors.New("kafka relation has no data")
)

// Descriptors supplies the current Kafka relation payload
type Descriptors interface {
	Kafka(ctx context.Context) (*types.KafkaDescriptor, error)
}

// Materials supplies the unit's TLS material for mutual TLS
type Materials interface {
	Material(ctx context.Context) (types.TLSMaterial, error)
}

// Config is what a single probe needs
type Config struct {
	Servers  []string
	Username string
	Password string
	Topic    string
	TLS      *tls.Config
	Timeout  time.Duration
}

// ProbeFunc connects to Kafka and queries topic metadata
type ProbeFunc func(ctx context.Context, cfg Config) error

// Checker probes the Kafka dependency. Failures are logged and reported as
// unreachable, never returned.
type Checker struct {
	descriptors Descriptors
	materials   Materials
	policy      retry.Policy
	probe       ProbeFunc
	cache       *gocache.Cache
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewChecker creates a Checker. materials may be nil when TLS is never used.
func NewChecker(descriptors Descriptors, materials Materials) *Checker {
	return &Checker{
		descriptors: descriptors,
		materials:   materials,
		policy:      DefaultPolicy,
		probe:       Probe,
		cache:       gocache.New(DefaultCacheTTL, time.Minute),
		timeout:     5 * time.Second,
		logger:      log.WithComponent("kafka"),
	}
}

// WithPolicy overrides the retry bound
func (c *Checker) WithPolicy(p retry.Policy) *Checker {
	c.policy = p
	return c
}

// WithProbe replaces the network probe
func (c *Checker) WithProbe(probe ProbeFunc) *Checker {
	c.probe = probe
	return c
}

// WithCacheTTL changes how long results are reused; zero disables reuse
func (c *Checker) WithCacheTTL(ttl time.Duration) *Checker {
	c.cache = gocache.New(ttl, time.Minute)
	if ttl == 0 {
		c.cache = nil
	}
	return c
}

// Invalidate drops memoized results
func (c *Checker) Invalidate() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

// Reachable reports whether the brokers accept our credentials and serve
// the schemas topic
func (c *Checker) Reachable(ctx context.Context) bool {
	cfg, err := c.config(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Kafka probe not possible")
		metrics.DependencyChecks.WithLabelValues("error").Inc()
		return false
	}

	key := cacheKey(cfg)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v.(bool)
		}
	}

	ok := retry.Bool(ctx, c.policy, func(ctx context.Context) (bool, error) {
		if err := c.probe(ctx, cfg); err != nil {
			c.logger.Warn().Err(err).Strs("servers", cfg.Servers).Msg("Kafka probe failed")
			return false, err
		}
		return true, nil
	}, false)

	if ok {
		metrics.DependencyChecks.WithLabelValues("reachable").Inc()
	} else {
		metrics.DependencyChecks.WithLabelValues("unreachable").Inc()
	}
	if c.cache != nil {
		c.cache.SetDefault(key, ok)
	}
	return ok
}

// Check implements health.Checker
func (c *Checker) Check(ctx context.Context) health.Result {
	start := time.Now()
	ok := c.Reachable(ctx)
	msg := "brokers reachable"
	if !ok {
		msg = "brokers unreachable"
	}
	return health.Result{
		Healthy:   ok,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type implements health.Checker
func (c *Checker) Type() health.CheckType {
	return health.CheckTypeKafka
}

func (c *Checker) config(ctx context.Context) (Config, error) {
	desc, err := c.descriptors.Kafka(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read kafka relation: %w", err)
	}
	if desc == nil || !desc.Complete() {
		return Config{}, errNotRelated
	}

	cfg := Config{
		Servers:  desc.BootstrapServers(),
		Username: desc.Username,
		Password: desc.Password,
		Topic:    desc.Topic,
		Timeout:  c.timeout,
	}
	if desc.UsesSSL() {
		var mat types.TLSMaterial
		if c.materials != nil {
			if mat, err = c.materials.Material(ctx); err != nil {
				return Config{}, fmt.Errorf("failed to read tls material: %w", err)
			}
		}
		if cfg.TLS, err = tlsConfig(desc.TLSCA, mat); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// tlsConfig trusts the relation CA, falling back to the unit CA, and
// presents the unit certificate when one is issued
func tlsConfig(relationCA string, mat types.TLSMaterial) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	ca := relationCA
	if ca == "" {
		ca = mat.CA
	}
	if ca != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(ca)) {
			return nil, fmt.Errorf("failed to parse kafka CA")
		}
		cfg.RootCAs = pool
	}

	if mat.Certificate != "" && mat.PrivateKey != "" {
		cert, err := tls.X509KeyPair([]byte(mat.Certificate), []byte(mat.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func cacheKey(cfg Config) string {
	return strings.Join(cfg.Servers, ",") + "|" + cfg.Username + "|" + cfg.Password + "|" + cfg.Topic + "|" + fmt.Sprint(cfg.TLS != nil)
}

// Probe authenticates with SCRAM-SHA-512 against the first reachable
// bootstrap server and reads the topic's partitions
func Probe(ctx context.Context, cfg Config) error {
	mechanism, err := scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("failed to create SASL mechanism: %w", err)
	}

	dialer := &kafkago.Dialer{
		Timeout:       cfg.Timeout,
		DualStack:     true,
		TLS:           cfg.TLS,
		SASLMechanism: mechanism,
	}

	var errs []error
	for _, server := range cfg.Servers {
		conn, err := dialer.DialContext(ctx, "tcp", server)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		_, err = conn.ReadPartitions(cfg.Topic)
		conn.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("no bootstrap servers")
	}
	return errors.Join(errs...)
}
