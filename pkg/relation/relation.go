package relation

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/karapace-operator/pkg/types"
)

// Relation payload keys
const (
	KeyEndpoints           = "endpoints"
	KeyUsername            = "username"
	KeyPassword            = "password"
	KeySecurityProtocol    = "security-protocol"
	KeyConsumerGroupPrefix = "consumer-group-prefix"
	KeyTopic               = "topic"
	KeyTLS                 = "tls"
	KeyTLSCA               = "tls-ca"
	KeySubject             = "subject"
	KeyExtraUserRoles      = "extra-user-roles"
	KeyApp                 = "app"

	// TLSEnabled is the value of KeyTLS when the remote side serves TLS
	TLSEnabled = "enabled"

	// RoleUser is the default client role
	RoleUser = "user"
	// RoleAdmin grants write access to every subject
	RoleAdmin = "admin"
)

// Source supplies relation data to the reconciler
type Source interface {
	// Kafka returns the Kafka relation payload, nil when not related
	Kafka(ctx context.Context) (*types.KafkaDescriptor, error)

	// Clients returns the active client relations sorted by ID
	Clients(ctx context.Context) ([]types.ClientRelation, error)

	// Publish hands connection data back to a client relation
	Publish(ctx context.Context, rel types.ClientRelation, data map[string]string) error
}

// ParseKafka decodes a Kafka relation payload
func ParseKafka(data map[string]string) types.KafkaDescriptor {
	return types.KafkaDescriptor{
		Endpoints:           data[KeyEndpoints],
		Username:            data[KeyUsername],
		Password:            data[KeyPassword],
		SecurityProtocol:    data[KeySecurityProtocol],
		ConsumerGroupPrefix: data[KeyConsumerGroupPrefix],
		Topic:               data[KeyTopic],
		TLS:                 data[KeyTLS] == TLSEnabled,
		TLSCA:               data[KeyTLSCA],
	}
}

// ParseClient decodes a client relation payload
func ParseClient(id string, data map[string]string) types.ClientRelation {
	role := data[KeyExtraUserRoles]
	if role == "" {
		role = RoleUser
	}
	return types.ClientRelation{
		ID:      id,
		App:     data[KeyApp],
		Subject: data[KeySubject],
		Role:    role,
	}
}

// Static is an in-memory Source. It serves standalone deployments where
// the Kafka payload comes from configuration, and tests.
type Static struct {
	mu        sync.RWMutex
	kafka     *types.KafkaDescriptor
	clients   map[string]types.ClientRelation
	published map[string]map[string]string
}

// NewStatic creates a Static source with an optional Kafka payload
func NewStatic(kafka *types.KafkaDescriptor) *Static {
	return &Static{
		kafka:     kafka,
		clients:   make(map[string]types.ClientRelation),
		published: make(map[string]map[string]string),
	}
}

// SetKafka replaces the Kafka payload; nil breaks the relation
func (s *Static) SetKafka(kafka *types.KafkaDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kafka = kafka
}

// AddClient joins a client relation
func (s *Static) AddClient(rel types.ClientRelation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[rel.ID] = rel
}

// RemoveClient departs a client relation
func (s *Static) RemoveClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// Published returns the data last published to a client relation
func (s *Static) Published(id string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published[id]
}

func (s *Static) Kafka(_ context.Context) (*types.KafkaDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kafka == nil {
		return nil, nil
	}
	k := *s.kafka
	return &k, nil
}

func (s *Static) Clients(_ context.Context) ([]types.ClientRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]types.ClientRelation, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

func (s *Static) Publish(_ context.Context, rel types.ClientRelation, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	s.published[rel.ID] = cp
	return nil
}
