package types

import (
	"strings"
	"time"
)

const (
	// AppName is the default application (and workload service) name
	AppName = "karapace"

	// ServiceName is the managed process inside the workload
	ServiceName = "karapace"

	// Port is the schema registry listen port
	Port = 8081

	// AdminUser is the internal administrative identity
	AdminUser = "operator"

	// KafkaTopic is the topic Karapace stores schemas in
	KafkaTopic = "_schemas"

	// KafkaConsumerGroup is the consumer group of statically configured relations
	KafkaConsumerGroup = "schema-registry"
)

// Paths inside the workload
const (
	ConfDir  = "/etc/karapace"
	ConfFile = ConfDir + "/karapace.config.json"
	AuthFile = ConfDir + "/karapace.auth.json"
	CertsDir = ConfDir + "/certs"
	CAFile   = CertsDir + "/ca.pem"
	CertFile = CertsDir + "/server.pem"
	KeyFile  = CertsDir + "/server.key"
	LogsDir  = "/var/log/karapace"
)

// Shared state keys. App-scoped keys are written by the leader only,
// unit-scoped keys by the owning unit only.
const (
	KeyAdminPassword  = "operator-password"
	KeyAuthSalt       = "auth-salt"
	KeyRelationPrefix = "relation-"

	KeyCA             = "ca-cert"
	KeyCSR            = "csr"
	KeyCertificate    = "certificate"
	KeyPrivateKey     = "private-key"
	KeyPrivateAddress = "private-address"

	// KeyRestartPending is set between a config write and the restart
	// that picks it up
	KeyRestartPending = "restart-pending"
)

// Credentials is a username/password pair
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// KafkaDescriptor is the payload supplied by the Kafka relation
type KafkaDescriptor struct {
	Endpoints           string
	Username            string
	Password            string
	SecurityProtocol    string
	ConsumerGroupPrefix string
	Topic               string
	TLS                 bool
	TLSCA               string
}

// Complete reports whether every required field is populated. Partial
// payloads are treated as "not ready yet"; nothing is defaulted here.
func (k KafkaDescriptor) Complete() bool {
	return k.Endpoints != "" &&
		k.Username != "" &&
		k.Password != "" &&
		k.SecurityProtocol != "" &&
		k.ConsumerGroupPrefix != "" &&
		k.Topic != ""
}

// BootstrapServers splits the comma separated endpoints
func (k KafkaDescriptor) BootstrapServers() []string {
	var servers []string
	for _, s := range strings.Split(k.Endpoints, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// UsesSSL reports whether the security protocol runs over TLS
func (k KafkaDescriptor) UsesSSL() bool {
	return strings.HasSuffix(k.SecurityProtocol, "SSL")
}

// ClientRelation is an application consuming the schema registry
type ClientRelation struct {
	ID      string
	App     string
	Subject string
	Role    string
}

// Username is the registry identity provisioned for the relation
func (r ClientRelation) Username() string {
	return KeyRelationPrefix + r.ID
}

// TLSMaterial holds the PEM encoded TLS artifacts of a unit
type TLSMaterial struct {
	CA          string
	Certificate string
	PrivateKey  string
	CSR         string
}

// EventType identifies a lifecycle event
type EventType string

const (
	EventInstall             EventType = "install"
	EventWorkloadReady       EventType = "workload-ready"
	EventConfigChanged       EventType = "config-changed"
	EventUpdateStatus        EventType = "update-status"
	EventRestartRequested    EventType = "restart-requested"
	EventLeaderElected       EventType = "leader-elected"
	EventCertificatesChanged EventType = "certificates-changed"
)

// Event is a single lifecycle event delivered to a replica
type Event struct {
	ID        string
	Type      EventType
	Source    string
	Attempt   int
	CreatedAt time.Time
}

// Result is returned by every event handler. The driving loop, not the
// handler, schedules redelivery.
type Result int

const (
	// ResultDone means the event was handled
	ResultDone Result = iota
	// ResultContinue means the event was handled and a configuration
	// reconciliation should follow
	ResultContinue
	// ResultDefer asks for the same event to be redelivered later
	ResultDefer
)

func (r Result) String() string {
	switch r {
	case ResultDone:
		return "done"
	case ResultContinue:
		return "continue"
	case ResultDefer:
		return "defer"
	default:
		return "unknown"
	}
}
