package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/relation"
	"github.com/cuemby/karapace-operator/pkg/security"
	"github.com/cuemby/karapace-operator/pkg/state"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/cuemby/karapace-operator/pkg/workload"
	"github.com/rs/zerolog"
)

var (
	// ErrNoCredentials is returned when the internal credentials have not
	// been created by the leader yet
	ErrNoCredentials = errors.New("internal credentials not created yet")

	// ErrUnknownUser is returned when rotating a user that does not exist
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnsafePassword is returned for supplied passwords outside [A-Za-z0-9]
	ErrUnsafePassword = errors.New("password must be alphanumeric")
)

// Registry permission operations
const (
	OperationRead  = "Read"
	OperationWrite = "Write"

	resourceAll = ".*"
)

// Connection is what client relations receive besides their credentials
type Connection struct {
	Endpoints string
	TLS       bool
	CA        string
}

// Manager owns the admin and client credentials and provisions them into
// the registry's auth file
type Manager struct {
	cluster   *state.Cluster
	workload  *workload.Workload
	relations relation.Source
	logger    zerolog.Logger
}

// New creates an auth Manager
func New(cluster *state.Cluster, w *workload.Workload, relations relation.Source) *Manager {
	return &Manager{
		cluster:   cluster,
		workload:  w,
		relations: relations,
		logger:    log.WithComponent("auth"),
	}
}

// CreateInternalUser creates the admin credential. It is a no-op when the
// credential already exists; only the leader may create it.
func (m *Manager) CreateInternalUser(ctx context.Context) error {
	creds, err := m.cluster.AdminCredentials(ctx)
	if err != nil {
		return err
	}
	if creds != nil {
		return nil
	}
	if !m.cluster.IsLeader() {
		return state.ErrNotLeader
	}

	password, err := security.GeneratePassword(security.PasswordLength)
	if err != nil {
		return err
	}
	updates := map[string]string{types.KeyAdminPassword: password}
	if err := m.ensureSalt(ctx, updates); err != nil {
		return err
	}
	if err := m.cluster.UpdateAppData(ctx, updates); err != nil {
		return err
	}

	m.logger.Info().Str("user", types.AdminUser).Msg("Internal user created")
	return m.Provision(ctx)
}

// UpdateAdminUser provisions the stored admin credential
func (m *Manager) UpdateAdminUser(ctx context.Context) error {
	creds, err := m.cluster.AdminCredentials(ctx)
	if err != nil {
		return err
	}
	if creds == nil {
		return ErrNoCredentials
	}
	return m.Provision(ctx)
}

// UpdateClientUsers reconciles client credentials against the active
// client relations. Missing credentials are created by the leader,
// existing ones are never changed and credentials of departed relations
// are removed.
func (m *Manager) UpdateClientUsers(ctx context.Context, conn Connection) error {
	clients, err := m.relations.Clients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list client relations: %w", err)
	}
	stored, err := m.cluster.ClientCredentials(ctx)
	if err != nil {
		return err
	}

	if m.cluster.IsLeader() {
		updates := make(map[string]string)
		active := make(map[string]bool, len(clients))
		for _, c := range clients {
			active[c.Username()] = true
			if stored[c.Username()] != "" {
				continue
			}
			password, err := security.GeneratePassword(security.PasswordLength)
			if err != nil {
				return err
			}
			updates[c.Username()] = password
			stored[c.Username()] = password
			m.logger.Info().Str("user", c.Username()).Str("app", c.App).Msg("Client user created")
		}
		for username := range stored {
			if !active[username] {
				updates[username] = ""
				delete(stored, username)
				m.logger.Info().Str("user", username).Msg("Client user removed")
			}
		}
		if len(updates) > 0 {
			if err := m.ensureSalt(ctx, updates); err != nil {
				return err
			}
			if err := m.cluster.UpdateAppData(ctx, updates); err != nil {
				return err
			}
		}

		for _, c := range clients {
			if err := m.relations.Publish(ctx, c, publication(c, stored[c.Username()], conn)); err != nil {
				m.logger.Warn().Err(err).Str("relation", c.ID).Msg("Failed to publish client credentials")
			}
		}
	}

	return m.Provision(ctx)
}

// RotatePassword replaces the password of identity, the admin user when
// empty. A random password is generated when password is empty. It returns
// the new password.
func (m *Manager) RotatePassword(ctx context.Context, identity, password string) (string, error) {
	if !m.cluster.IsLeader() {
		return "", state.ErrNotLeader
	}
	if identity == "" {
		identity = types.AdminUser
	}

	key := identity
	if identity == types.AdminUser {
		key = types.KeyAdminPassword
	} else {
		stored, err := m.cluster.ClientCredentials(ctx)
		if err != nil {
			return "", err
		}
		if _, ok := stored[identity]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownUser, identity)
		}
	}

	if password == "" {
		var err error
		if password, err = security.GeneratePassword(security.PasswordLength); err != nil {
			return "", err
		}
	} else if !security.IsSafeSecret(password) {
		return "", ErrUnsafePassword
	}

	updates := map[string]string{key: password}
	if err := m.ensureSalt(ctx, updates); err != nil {
		return "", err
	}
	if err := m.cluster.UpdateAppData(ctx, updates); err != nil {
		return "", err
	}
	m.logger.Info().Str("user", identity).Msg("Password rotated")

	if err := m.Provision(ctx); err != nil {
		return "", err
	}
	return password, nil
}

// AdminPassword returns the stored admin password
func (m *Manager) AdminPassword(ctx context.Context) (string, error) {
	creds, err := m.cluster.AdminCredentials(ctx)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", ErrNoCredentials
	}
	return creds.Password, nil
}

// ensureSalt adds a salt to updates when none is stored yet
func (m *Manager) ensureSalt(ctx context.Context, updates map[string]string) error {
	data, err := m.cluster.AppData(ctx)
	if err != nil {
		return err
	}
	if data[types.KeyAuthSalt] != "" {
		return nil
	}
	salt, err := security.GeneratePassword(security.SaltLength)
	if err != nil {
		return err
	}
	updates[types.KeyAuthSalt] = salt
	return nil
}

// Provision renders the auth file from shared state and writes it when
// its content changed
func (m *Manager) Provision(ctx context.Context) error {
	data, err := m.cluster.AppData(ctx)
	if err != nil {
		return err
	}
	salt := data[types.KeyAuthSalt]
	if data[types.KeyAdminPassword] == "" || salt == "" {
		return ErrNoCredentials
	}

	clients, err := m.relations.Clients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list client relations: %w", err)
	}

	file := File{
		Users:       []json.RawMessage{},
		Permissions: []Permission{},
	}
	add := func(username, password string, perm *Permission) error {
		entry, err := m.workload.Mkpasswd(ctx, username, password, salt)
		if err != nil {
			return fmt.Errorf("failed to hash password for %s: %w", username, err)
		}
		if !json.Valid([]byte(entry)) {
			return fmt.Errorf("unexpected karapace_mkpasswd output for %s", username)
		}
		file.Users = append(file.Users, json.RawMessage(entry))
		if perm != nil {
			file.Permissions = append(file.Permissions, *perm)
		}
		return nil
	}

	if err := add(types.AdminUser, data[types.KeyAdminPassword], &Permission{
		Username:  types.AdminUser,
		Operation: OperationWrite,
		Resource:  resourceAll,
	}); err != nil {
		return err
	}
	for _, c := range clients {
		password := data[c.Username()]
		if password == "" {
			continue
		}
		if err := add(c.Username(), password, permission(c)); err != nil {
			return err
		}
	}

	content, err := file.Render()
	if err != nil {
		return err
	}
	current := strings.Join(m.workload.Read(ctx, types.AuthFile), "\n")
	if current == content {
		return nil
	}
	if err := m.workload.Write(ctx, content, types.AuthFile); err != nil {
		return err
	}
	m.logger.Debug().Int("users", len(file.Users)).Msg("Auth file updated")
	return nil
}

func permission(c types.ClientRelation) *Permission {
	if c.Role == relation.RoleAdmin {
		return &Permission{Username: c.Username(), Operation: OperationWrite, Resource: resourceAll}
	}
	if c.Subject == "" {
		return nil
	}
	return &Permission{Username: c.Username(), Operation: OperationRead, Resource: "Subject:" + c.Subject}
}

func publication(c types.ClientRelation, password string, conn Connection) map[string]string {
	tls := "disabled"
	if conn.TLS {
		tls = relation.TLSEnabled
	}
	data := map[string]string{
		relation.KeyUsername:  c.Username(),
		relation.KeyPassword:  password,
		relation.KeyEndpoints: conn.Endpoints,
		relation.KeyTLS:       tls,
	}
	if c.Subject != "" {
		data[relation.KeySubject] = c.Subject
	}
	if conn.TLS && conn.CA != "" {
		data[relation.KeyTLSCA] = conn.CA
	}
	return data
}
