package storage

import (
	"context"
	"errors"
)

// ErrNotFormed is returned when the peer group has not been created yet
var ErrNotFormed = errors.New("peer group not formed")

// Store is the replicated peer state: one app-scoped databag readable by all
// replicas and one databag per unit. Updates are partial; an empty value
// deletes the key. Write permissions are enforced by the caller (see
// state.Cluster), not by the store.
type Store interface {
	// Formed reports whether the peer group exists
	Formed(ctx context.Context) (bool, error)

	// Form creates the peer group. Forming an existing group is a no-op.
	Form(ctx context.Context) error

	AppData(ctx context.Context) (map[string]string, error)
	UpdateAppData(ctx context.Context, updates map[string]string) error

	UnitData(ctx context.Context, unit string) (map[string]string, error)
	UpdateUnitData(ctx context.Context, unit string, updates map[string]string) error

	// Units lists units that have written unit data
	Units(ctx context.Context) ([]string, error)

	Close() error
}

// Sealer encrypts values at rest
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// merge applies a partial update, removing keys with empty values
func merge(data, updates map[string]string) map[string]string {
	if data == nil {
		data = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		if v == "" {
			delete(data, k)
			continue
		}
		data[k] = v
	}
	return data
}
