package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
	"github.com/rs/zerolog"
)

const masked = "*****"

// Properties is a Karapace configuration. Its canonical form is JSON with
// sorted keys, so equal configurations always serialize identically.
type Properties map[string]any

// Bytes returns the canonical JSON encoding
func (p Properties) Bytes() []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	// encoding/json sorts map keys
	data, err := json.MarshalIndent(map[string]any(p), "", "  ")
	if err != nil {
		return nil
	}
	return data
}

// Equal compares canonical encodings, so an int read back as float64
// compares equal to the int that was written
func (p Properties) Equal(other Properties) bool {
	return bytes.Equal(p.Bytes(), other.Bytes())
}

// Keys returns the sorted keys
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Options are the operator-level settings rendered into every config
type Options struct {
	LogLevel string
	Port     int
}

// Input is the cluster state a configuration is derived from
type Input struct {
	Unit string
	Host string

	Kafka types.KafkaDescriptor

	// TLS is true when this service serves TLS
	TLS bool
}

// Renderer computes and applies the Karapace configuration file
type Renderer struct {
	workload *workload.Workload
	opts     Options
	logger   zerolog.Logger
}

// New creates a Renderer
func New(w *workload.Workload, opts Options) *Renderer {
	if opts.Port == 0 {
		opts.Port = types.Port
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "INFO"
	}
	return &Renderer{
		workload: w,
		opts:     opts,
		logger:   log.WithComponent("render"),
	}
}

// Desired is a pure function of its input
func (r *Renderer) Desired(in Input) Properties {
	p := Properties{
		"karapace_registry":   true,
		"karapace_rest":       false,
		"host":                "0.0.0.0",
		"port":                r.opts.Port,
		"registry_host":       "0.0.0.0",
		"registry_port":       r.opts.Port,
		"log_level":           strings.ToUpper(r.opts.LogLevel),
		"registry_authfile":   types.AuthFile,
		"bootstrap_uri":       strings.Join(in.Kafka.BootstrapServers(), ","),
		"topic_name":          topic(in.Kafka),
		"group_id":            in.Kafka.ConsumerGroupPrefix,
		"client_id":           clientID(in.Unit),
		"security_protocol":   in.Kafka.SecurityProtocol,
		"sasl_mechanism":      "SCRAM-SHA-512",
		"sasl_plain_username": in.Kafka.Username,
		"sasl_plain_password": in.Kafka.Password,
		"master_eligibility":  true,
	}
	if in.Host != "" {
		p["advertised_hostname"] = in.Host
	}
	if in.Kafka.TLS {
		p["ssl_cafile"] = types.CAFile
		p["ssl_certfile"] = types.CertFile
		p["ssl_keyfile"] = types.KeyFile
	}
	if in.TLS {
		p["server_tls_certfile"] = types.CertFile
		p["server_tls_keyfile"] = types.KeyFile
	}
	return p
}

// Current parses the deployed configuration, empty if absent or unreadable
func (r *Renderer) Current(ctx context.Context) Properties {
	lines := r.workload.Read(ctx, types.ConfFile)
	content := strings.TrimSpace(strings.Join(lines, "\n"))
	if content == "" {
		return Properties{}
	}

	var p Properties
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		r.logger.Warn().Err(err).Msg("Deployed configuration is not valid JSON, treating it as empty")
		return Properties{}
	}
	return p
}

// Apply writes p to the configuration file
func (r *Renderer) Apply(ctx context.Context, p Properties) error {
	if err := r.workload.Write(ctx, string(p.Bytes()), types.ConfFile); err != nil {
		return fmt.Errorf("failed to apply configuration: %w", err)
	}
	return nil
}

// Change is a single differing key
type Change struct {
	Key string
	Old string
	New string
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Key, c.Old, c.New)
}

// Diff lists keys that differ between current and desired, with secret
// values masked
func Diff(current, desired Properties) []Change {
	seen := make(map[string]bool, len(current)+len(desired))
	var keys []string
	for _, p := range []Properties{current, desired} {
		for k := range p {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	var changes []Change
	for _, k := range keys {
		oldV, newV := encode(current, k), encode(desired, k)
		if oldV == newV {
			continue
		}
		if secret(k) {
			if oldV != "" {
				oldV = masked
			}
			if newV != "" {
				newV = masked
			}
		}
		changes = append(changes, Change{Key: k, Old: oldV, New: newV})
	}
	return changes
}

func encode(p Properties, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func secret(key string) bool {
	return strings.Contains(key, "password")
}

func topic(k types.KafkaDescriptor) string {
	if k.Topic != "" {
		return k.Topic
	}
	return types.KafkaTopic
}

// clientID derives "sr-<ordinal>" from unit names like karapace-0 or karapace/0
func clientID(unit string) string {
	i := strings.LastIndexAny(unit, "-/")
	if i < 0 || i == len(unit)-1 {
		return "sr-" + unit
	}
	return "sr-" + unit[i+1:]
}
