package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/karapace-operator/pkg/k8s"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "KARAPACE_OPERATOR_"

// Store backends
const (
	StoreBolt    = "bolt"
	StoreSecrets = "secrets"
)

// Relation sources
const (
	RelationsStatic  = "static"
	RelationsSecrets = "secrets"
)

// Certificate providers
const (
	ProviderCSR   = "csr"
	ProviderLocal = "local"
)

// Registry probe kinds
const (
	ProbeHTTP = "http"
	ProbeTCP  = "tcp"
	ProbeExec = "exec"
	ProbeNone = "none"
)

// Config is the operator configuration
type Config struct {
	// Unit is this replica's name, normally the pod name
	Unit      string `yaml:"unit" validate:"required"`
	Namespace string `yaml:"namespace"`
	// App is the application name shared by all replicas. Derived from
	// Unit when empty.
	App  string `yaml:"app"`
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	Kubeconfig string `yaml:"kubeconfig"`

	Log struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	API struct {
		Addr   string `yaml:"addr" validate:"required"`
		Secret string `yaml:"secret" validate:"omitempty,min=32"`
	} `yaml:"api"`

	Store struct {
		Backend string `yaml:"backend" validate:"oneof=bolt secrets"`
		DataDir string `yaml:"data_dir" validate:"required_if=Backend bolt"`
		// SealKey encrypts bolt values at rest when set
		SealKey string `yaml:"seal_key"`
	} `yaml:"store"`

	Relations struct {
		Source string      `yaml:"source" validate:"oneof=static secrets"`
		Kafka  StaticKafka `yaml:"kafka"`
	} `yaml:"relations"`

	TLS struct {
		Enabled  bool     `yaml:"enabled"`
		Provider string   `yaml:"provider" validate:"oneof=csr local"`
		SANs     []string `yaml:"sans"`
		CSR      struct {
			SignerName  string `yaml:"signer_name"`
			CAConfigMap string `yaml:"ca_configmap"`
			CAKey       string `yaml:"ca_key"`
			AutoApprove bool   `yaml:"auto_approve"`
		} `yaml:"csr"`
		// CADir holds the local provider's CA
		CADir string `yaml:"ca_dir"`
	} `yaml:"tls"`

	Election struct {
		Enabled       bool          `yaml:"enabled"`
		LeaseName     string        `yaml:"lease_name"`
		LeaseDuration time.Duration `yaml:"lease_duration"`
		RenewDeadline time.Duration `yaml:"renew_deadline"`
		RetryPeriod   time.Duration `yaml:"retry_period"`
		// RestartLock serializes rolling restarts through a Lease
		RestartLock bool `yaml:"restart_lock"`
	} `yaml:"election"`

	Loop struct {
		DeferDelay           time.Duration `yaml:"defer_delay"`
		UpdateStatusInterval time.Duration `yaml:"update_status_interval"`
		MetricsInterval      time.Duration `yaml:"metrics_interval"`
	} `yaml:"loop"`

	Probe struct {
		Kind    string        `yaml:"kind" validate:"oneof=http tcp exec none"`
		Path    string        `yaml:"path"`
		Command string        `yaml:"command"`
		Timeout time.Duration `yaml:"timeout"`
		Retries int           `yaml:"retries" validate:"min=0"`
	} `yaml:"probe"`

	Containerd struct {
		Socket      string `yaml:"socket"`
		Namespace   string `yaml:"namespace"`
		ContainerID string `yaml:"container_id" validate:"required"`
		HostRoot    string `yaml:"host_root"`
	} `yaml:"containerd"`
}

// StaticKafka is a Kafka relation given in configuration
type StaticKafka struct {
	Endpoints        string `yaml:"endpoints"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	SecurityProtocol string `yaml:"security_protocol"`
	ConsumerGroup    string `yaml:"consumer_group_prefix"`
	Topic            string `yaml:"topic"`
	TLS              bool   `yaml:"tls"`
	TLSCA            string `yaml:"tls_ca"`
}

// Descriptor returns the relation payload, nil when no endpoints are set.
// The security protocol follows the TLS flag and the consumer group falls
// back to the registry default when the configuration leaves them out.
func (k StaticKafka) Descriptor() *types.KafkaDescriptor {
	if k.Endpoints == "" {
		return nil
	}
	protocol := k.SecurityProtocol
	if protocol == "" {
		protocol = "SASL_PLAINTEXT"
		if k.TLS {
			protocol = "SASL_SSL"
		}
	}
	group := k.ConsumerGroup
	if group == "" {
		group = types.KafkaConsumerGroup
	}
	return &types.KafkaDescriptor{
		Endpoints:           k.Endpoints,
		Username:            k.Username,
		Password:            k.Password,
		SecurityProtocol:    protocol,
		ConsumerGroupPrefix: group,
		Topic:               k.Topic,
		TLS:                 k.TLS,
		TLSCA:               k.TLSCA,
	}
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path (optional), the .env file at envFile
// (optional), applies environment overrides and defaults, and validates
// the result.
func Load(path, envFile string) (*Config, error) {
	if err := LoadEnv(envFile); err != nil {
		return nil, err
	}

	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadEnv adds the variables of envFile to the process environment
// without overriding variables already set. A missing file is ignored.
func LoadEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}

// Env returns the override variable KARAPACE_OPERATOR_<key>
func Env(key string) string {
	v, _ := getEnvStr(key)
	return v
}

func (c *Config) applyDefaults() {
	if c.Unit == "" {
		c.Unit, _ = os.Hostname()
	}
	if c.App == "" && c.Unit != "" {
		c.App = k8s.AppName(c.Unit)
	}
	if c.Namespace == "" {
		c.Namespace = k8s.Namespace("default")
	}
	if c.Host == "" {
		c.Host = os.Getenv("POD_IP")
	}
	if c.Port == 0 {
		c.Port = types.Port
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":9090"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreSecrets
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "/var/lib/karapace-operator"
	}
	if c.Relations.Source == "" {
		c.Relations.Source = RelationsSecrets
	}
	if c.TLS.Provider == "" {
		c.TLS.Provider = ProviderCSR
	}
	if c.TLS.CSR.SignerName == "" {
		c.TLS.CSR.SignerName = "kubernetes.io/kube-apiserver-client"
	}
	if c.TLS.CSR.CAKey == "" {
		c.TLS.CSR.CAKey = "ca.crt"
	}
	if c.TLS.CADir == "" {
		c.TLS.CADir = c.Store.DataDir + "/ca"
	}
	if c.Election.LeaseName == "" && c.App != "" {
		c.Election.LeaseName = c.App + "-leader"
	}
	if c.Election.LeaseDuration == 0 {
		c.Election.LeaseDuration = k8s.DefaultLeaseDuration
	}
	if c.Election.RenewDeadline == 0 {
		c.Election.RenewDeadline = k8s.DefaultRenewDeadline
	}
	if c.Election.RetryPeriod == 0 {
		c.Election.RetryPeriod = k8s.DefaultRetryPeriod
	}
	if c.Loop.DeferDelay == 0 {
		c.Loop.DeferDelay = 10 * time.Second
	}
	if c.Loop.UpdateStatusInterval == 0 {
		c.Loop.UpdateStatusInterval = 5 * time.Minute
	}
	if c.Loop.MetricsInterval == 0 {
		c.Loop.MetricsInterval = 30 * time.Second
	}
	if c.Probe.Kind == "" {
		c.Probe.Kind = ProbeHTTP
	}
	if c.Probe.Path == "" {
		c.Probe.Path = "/_health"
	}
	if c.Probe.Command == "" {
		c.Probe.Command = "karapace --version"
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 5 * time.Second
	}
	if c.Probe.Retries == 0 {
		c.Probe.Retries = 3
	}
	if c.Containerd.HostRoot == "" {
		c.Containerd.HostRoot = "/"
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Relations.Source == RelationsStatic && c.Relations.Kafka.Descriptor() == nil {
		return errors.New("invalid config: static relations need relations.kafka.endpoints")
	}
	return nil
}

// ElectionConfig returns the leader election settings
func (c *Config) ElectionConfig() k8s.ElectionConfig {
	return k8s.ElectionConfig{
		Namespace:     c.Namespace,
		Name:          c.Election.LeaseName,
		Identity:      c.Unit,
		LeaseDuration: c.Election.LeaseDuration,
		RenewDeadline: c.Election.RenewDeadline,
		RetryPeriod:   c.Election.RetryPeriod,
	}
}

func getEnvStr(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"UNIT":                 &c.Unit,
		"NAMESPACE":            &c.Namespace,
		"APP":                  &c.App,
		"HOST":                 &c.Host,
		"KUBECONFIG":           &c.Kubeconfig,
		"LOG_LEVEL":            &c.Log.Level,
		"API_ADDR":             &c.API.Addr,
		"API_SECRET":           &c.API.Secret,
		"STORE_BACKEND":        &c.Store.Backend,
		"STORE_DATA_DIR":       &c.Store.DataDir,
		"STORE_SEAL_KEY":       &c.Store.SealKey,
		"RELATIONS_SOURCE":     &c.Relations.Source,
		"KAFKA_ENDPOINTS":      &c.Relations.Kafka.Endpoints,
		"KAFKA_USERNAME":       &c.Relations.Kafka.Username,
		"KAFKA_PASSWORD":       &c.Relations.Kafka.Password,
		"KAFKA_TOPIC":          &c.Relations.Kafka.Topic,
		"KAFKA_PROTOCOL":       &c.Relations.Kafka.SecurityProtocol,
		"KAFKA_CONSUMER_GROUP": &c.Relations.Kafka.ConsumerGroup,
		"TLS_PROVIDER":         &c.TLS.Provider,
		"TLS_SIGNER_NAME":      &c.TLS.CSR.SignerName,
		"TLS_CA_CONFIGMAP":     &c.TLS.CSR.CAConfigMap,
		"PROBE_KIND":           &c.Probe.Kind,
		"CONTAINERD_SOCKET":    &c.Containerd.Socket,
		"CONTAINERD_NAMESPACE": &c.Containerd.Namespace,
		"CONTAINER_ID":         &c.Containerd.ContainerID,
		"HOST_ROOT":            &c.Containerd.HostRoot,
	}
	for key, dst := range strs {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}

	if v, ok := getEnvStr("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT: %w", EnvPrefix, err)
		}
		c.Port = n
	}

	bools := map[string]*bool{
		"LOG_JSON":              &c.Log.JSON,
		"TLS_ENABLED":           &c.TLS.Enabled,
		"TLS_AUTO_APPROVE":      &c.TLS.CSR.AutoApprove,
		"KAFKA_TLS":             &c.Relations.Kafka.TLS,
		"ELECTION_ENABLED":      &c.Election.Enabled,
		"ELECTION_RESTART_LOCK": &c.Election.RestartLock,
	}
	for key, dst := range bools {
		if v, ok := getEnvStr(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"DEFER_DELAY":            &c.Loop.DeferDelay,
		"UPDATE_STATUS_INTERVAL": &c.Loop.UpdateStatusInterval,
		"METRICS_INTERVAL":       &c.Loop.MetricsInterval,
	}
	for key, dst := range durations {
		if v, ok := getEnvStr(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	if v, ok := getEnvStr("TLS_SANS"); ok {
		c.TLS.SANs = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.TLS.SANs = append(c.TLS.SANs, s)
			}
		}
	}
	return nil
}
