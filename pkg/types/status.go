package types

import "github.com/rs/zerolog"

// Severity classifies a replica status
type Severity string

const (
	SeverityActive      Severity = "active"
	SeverityMaintenance Severity = "maintenance"
	SeverityWaiting     Severity = "waiting"
	SeverityBlocked     Severity = "blocked"
)

// Status is the observable state of a replica. Exactly one is current at
// any time; it is recomputed on every event.
type Status struct {
	Name     string
	Severity Severity
	Message  string
	LogLevel zerolog.Level
}

var (
	StatusActive = Status{"ACTIVE", SeverityActive, "", zerolog.DebugLevel}

	StatusNoPeerGroup = Status{"NO_PEER_GROUP", SeverityMaintenance,
		"no peer group yet", zerolog.DebugLevel}
	StatusContainerNotConnected = Status{"CONTAINER_NOT_CONNECTED", SeverityMaintenance,
		"karapace container not ready", zerolog.DebugLevel}
	StatusServiceNotRunning = Status{"SERVICE_NOT_RUNNING", SeverityBlocked,
		"karapace service not running", zerolog.ErrorLevel}
	StatusKafkaNotRelated = Status{"KAFKA_NOT_RELATED", SeverityBlocked,
		"missing required kafka relation", zerolog.DebugLevel}
	StatusKafkaNotConnected = Status{"KAFKA_NOT_CONNECTED", SeverityBlocked,
		"unit not connected to kafka", zerolog.ErrorLevel}
	StatusKafkaTLSMismatch = Status{"KAFKA_TLS_MISMATCH", SeverityBlocked,
		"tls must be enabled on both karapace and kafka", zerolog.ErrorLevel}
	StatusKafkaNoData = Status{"KAFKA_NO_DATA", SeverityWaiting,
		"kafka credentials not created yet", zerolog.DebugLevel}
	StatusNoCreds = Status{"NO_CREDS", SeverityWaiting,
		"internal credentials not yet added", zerolog.DebugLevel}
	StatusNoCert = Status{"NO_CERT", SeverityWaiting,
		"unit waiting for signed certificates", zerolog.InfoLevel}
)

// Statuses lists every known status
var Statuses = []Status{
	StatusActive,
	StatusNoPeerGroup,
	StatusContainerNotConnected,
	StatusServiceNotRunning,
	StatusKafkaNotRelated,
	StatusKafkaNotConnected,
	StatusKafkaTLSMismatch,
	StatusKafkaNoData,
	StatusNoCreds,
	StatusNoCert,
}

// IsActive reports whether the status is the active one
func (s Status) IsActive() bool {
	return s.Severity == SeverityActive
}

func (s Status) String() string {
	if s.Message == "" {
		return string(s.Severity)
	}
	return string(s.Severity) + ": " + s.Message
}
