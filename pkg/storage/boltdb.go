package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketApp   = []byte("app")
	bucketUnits = []byte("units")
)

// BoltStore implements Store on a local BoltDB file. It backs single-node
// deployments and tests; multi-replica deployments use SecretStore.
type BoltStore struct {
	db     *bolt.DB
	sealer Sealer
}

// NewBoltStore opens (or creates) the peer database in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "peers.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUnits); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketUnits, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// WithSealer encrypts every stored value
func (s *BoltStore) WithSealer(sealer Sealer) *BoltStore {
	s.sealer = sealer
	return s
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Formed(_ context.Context) (bool, error) {
	formed := false
	err := s.db.View(func(tx *bolt.Tx) error {
		formed = tx.Bucket(bucketApp) != nil
		return nil
	})
	return formed, err
}

func (s *BoltStore) Form(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketApp)
		return err
	})
}

func (s *BoltStore) AppData(_ context.Context) (map[string]string, error) {
	var data map[string]string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApp)
		if b == nil {
			return ErrNotFormed
		}
		var err error
		data, err = s.readBucket(b)
		return err
	})
	return data, err
}

func (s *BoltStore) UpdateAppData(_ context.Context, updates map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApp)
		if b == nil {
			return ErrNotFormed
		}
		return s.writeBucket(b, updates)
	})
}

func (s *BoltStore) UnitData(_ context.Context, unit string) (map[string]string, error) {
	var data map[string]string
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketApp) == nil {
			return ErrNotFormed
		}
		b := tx.Bucket(bucketUnits).Bucket([]byte(unit))
		if b == nil {
			data = map[string]string{}
			return nil
		}
		var err error
		data, err = s.readBucket(b)
		return err
	})
	return data, err
}

func (s *BoltStore) UpdateUnitData(_ context.Context, unit string, updates map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketApp) == nil {
			return ErrNotFormed
		}
		b, err := tx.Bucket(bucketUnits).CreateBucketIfNotExists([]byte(unit))
		if err != nil {
			return fmt.Errorf("failed to create unit bucket %s: %w", unit, err)
		}
		return s.writeBucket(b, updates)
	})
}

func (s *BoltStore) Units(_ context.Context) ([]string, error) {
	var units []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnits).ForEachBucket(func(k []byte) error {
			units = append(units, string(k))
			return nil
		})
	})
	sort.Strings(units)
	return units, err
}

func (s *BoltStore) readBucket(b *bolt.Bucket) (map[string]string, error) {
	data := make(map[string]string)
	err := b.ForEach(func(k, v []byte) error {
		if v == nil {
			return nil
		}
		if s.sealer != nil {
			plain, err := s.sealer.Open(v)
			if err != nil {
				return fmt.Errorf("failed to decrypt %s: %w", k, err)
			}
			v = plain
		}
		data[string(k)] = string(v)
		return nil
	})
	return data, err
}

func (s *BoltStore) writeBucket(b *bolt.Bucket, updates map[string]string) error {
	for k, v := range updates {
		if v == "" {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
			continue
		}
		value := []byte(v)
		if s.sealer != nil {
			sealed, err := s.sealer.Seal(value)
			if err != nil {
				return fmt.Errorf("failed to encrypt %s: %w", k, err)
			}
			value = sealed
		}
		if err := b.Put([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}
