package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/karapace-operator/pkg/storage"
	"github.com/cuemby/karapace-operator/pkg/types"
)

var (
	// ErrNotLeader is returned when a non-leader writes app-scoped data
	ErrNotLeader = errors.New("only the leader may write app data")

	// ErrNotOwner is returned when a unit writes another unit's data
	ErrNotOwner = errors.New("units may only write their own data")
)

// Leadership answers whether this replica currently holds leadership.
// Leadership is granted by the orchestration substrate, never computed here.
type Leadership interface {
	IsLeader() bool
}

// LeaderFunc adapts a function to Leadership
type LeaderFunc func() bool

// IsLeader implements Leadership
func (f LeaderFunc) IsLeader() bool { return f() }

// Cluster is this replica's view of the shared peer state. It enforces the
// write discipline: app data by the leader only, unit data by its owner only.
type Cluster struct {
	store  storage.Store
	unit   string
	leader Leadership
}

// New creates a Cluster for unit backed by store
func New(store storage.Store, unit string, leader Leadership) *Cluster {
	return &Cluster{
		store:  store,
		unit:   unit,
		leader: leader,
	}
}

// Unit returns the local unit name
func (c *Cluster) Unit() string {
	return c.unit
}

// IsLeader reports whether this replica is the leader
func (c *Cluster) IsLeader() bool {
	return c.leader != nil && c.leader.IsLeader()
}

// Formed reports whether the peer group exists
func (c *Cluster) Formed(ctx context.Context) (bool, error) {
	return c.store.Formed(ctx)
}

// Form creates the peer group. Only the leader may form it.
func (c *Cluster) Form(ctx context.Context) error {
	if !c.IsLeader() {
		return ErrNotLeader
	}
	return c.store.Form(ctx)
}

// AppData returns the app-scoped data, empty when the group is not formed
func (c *Cluster) AppData(ctx context.Context) (map[string]string, error) {
	data, err := c.store.AppData(ctx)
	if errors.Is(err, storage.ErrNotFormed) {
		return map[string]string{}, nil
	}
	return data, err
}

// UpdateAppData applies a partial update to app data
func (c *Cluster) UpdateAppData(ctx context.Context, updates map[string]string) error {
	if !c.IsLeader() {
		return ErrNotLeader
	}
	if err := c.store.UpdateAppData(ctx, updates); err != nil {
		return fmt.Errorf("failed to update app data: %w", err)
	}
	return nil
}

// UnitData returns the data of the given unit
func (c *Cluster) UnitData(ctx context.Context, unit string) (map[string]string, error) {
	data, err := c.store.UnitData(ctx, unit)
	if errors.Is(err, storage.ErrNotFormed) {
		return map[string]string{}, nil
	}
	return data, err
}

// LocalData returns this unit's data
func (c *Cluster) LocalData(ctx context.Context) (map[string]string, error) {
	return c.UnitData(ctx, c.unit)
}

// UpdateUnitData applies a partial update to a unit's data
func (c *Cluster) UpdateUnitData(ctx context.Context, unit string, updates map[string]string) error {
	if unit != c.unit {
		return ErrNotOwner
	}
	if err := c.store.UpdateUnitData(ctx, unit, updates); err != nil {
		return fmt.Errorf("failed to update unit data: %w", err)
	}
	return nil
}

// UpdateLocalData applies a partial update to this unit's data
func (c *Cluster) UpdateLocalData(ctx context.Context, updates map[string]string) error {
	return c.UpdateUnitData(ctx, c.unit, updates)
}

// Units lists the units that published data
func (c *Cluster) Units(ctx context.Context) ([]string, error) {
	units, err := c.store.Units(ctx)
	if errors.Is(err, storage.ErrNotFormed) {
		return nil, nil
	}
	return units, err
}

// AdminCredentials returns the internal admin credential, nil when absent
func (c *Cluster) AdminCredentials(ctx context.Context) (*types.Credentials, error) {
	data, err := c.AppData(ctx)
	if err != nil {
		return nil, err
	}
	password := data[types.KeyAdminPassword]
	if password == "" {
		return nil, nil
	}
	return &types.Credentials{Username: types.AdminUser, Password: password}, nil
}

// ClientCredentials returns stored client credentials keyed by username
func (c *Cluster) ClientCredentials(ctx context.Context) (map[string]string, error) {
	data, err := c.AppData(ctx)
	if err != nil {
		return nil, err
	}
	creds := make(map[string]string)
	for k, v := range data {
		if strings.HasPrefix(k, types.KeyRelationPrefix) {
			creds[k] = v
		}
	}
	return creds, nil
}
