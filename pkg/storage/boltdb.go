package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketReports       = []byte("reports")
	bucketReleases      = []byte("releases")
	bucketNotifications = []byte("notifications")

	keySystem   = []byte("_system")
	keyProbedAt = []byte("_probed_at")
)

// BoltStore implements Store using bbolt
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketReports, bucketReleases, bucketNotifications} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return nil, err
	}

	metrics.UpdateComponent(metrics.ComponentStore, true, "")
	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// SaveSnapshot replaces the stored reports with those of snapshot
func (s *BoltStore) SaveSnapshot(snapshot types.Snapshot) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		for component, report := range snapshot.Reports {
			if err := putJSON(b, []byte(component), report); err != nil {
				return err
			}
		}
		if err := putJSON(b, keySystem, snapshot.System); err != nil {
			return err
		}
		return putJSON(b, keyProbedAt, snapshot.CheckedAt)
	})
	s.track(err)
	return err
}

// LastSnapshot rebuilds the most recently saved snapshot
func (s *BoltStore) LastSnapshot() (*types.Snapshot, error) {
	snapshot := types.Snapshot{Reports: make(map[types.Component]types.HealthReport)}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		data := b.Get(keyProbedAt)
		if data == nil {
			return fmt.Errorf("snapshot %w", ErrNotFound)
		}
		if err := json.Unmarshal(data, &snapshot.CheckedAt); err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			switch string(k) {
			case string(keyProbedAt):
				return nil
			case string(keySystem):
				return json.Unmarshal(v, &snapshot.System)
			}
			var report types.HealthReport
			if err := json.Unmarshal(v, &report); err != nil {
				return err
			}
			snapshot.Reports[types.Component(k)] = report
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// RecordRelease stores version as the newest release of component. It
// returns true when the tag differs from the one stored before.
func (s *BoltStore) RecordRelease(component types.Component, version types.Version, seenAt time.Time) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReleases)
		obs := ReleaseObservation{Component: component, FirstSeen: seenAt}
		if data := b.Get([]byte(component)); data != nil {
			if err := json.Unmarshal(data, &obs); err != nil {
				return err
			}
		}
		if obs.Version.Tag != version.Tag {
			changed = true
			obs.FirstSeen = seenAt
		}
		obs.Version = version
		obs.LastSeen = seenAt
		return putJSON(b, []byte(component), obs)
	})
	s.track(err)
	return changed, err
}

// GetRelease returns the newest release recorded for component
func (s *BoltStore) GetRelease(component types.Component) (*ReleaseObservation, error) {
	var obs ReleaseObservation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReleases).Get([]byte(component))
		if data == nil {
			return fmt.Errorf("release for %s %w", component, ErrNotFound)
		}
		return json.Unmarshal(data, &obs)
	})
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// ListReleases returns every recorded release observation
func (s *BoltStore) ListReleases() ([]*ReleaseObservation, error) {
	var out []*ReleaseObservation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReleases).ForEach(func(k, v []byte) error {
			var obs ReleaseObservation
			if err := json.Unmarshal(v, &obs); err != nil {
				return err
			}
			out = append(out, &obs)
			return nil
		})
	})
	return out, err
}

// ShouldNotify reports whether key was last notified more than cooldown
// before now, and if so records now as its last notification. Check and
// update happen in one transaction.
func (s *BoltStore) ShouldNotify(key string, cooldown time.Duration, now time.Time) (bool, error) {
	allowed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotifications)
		if data := b.Get([]byte(key)); data != nil {
			var last time.Time
			if err := json.Unmarshal(data, &last); err != nil {
				return err
			}
			if now.Sub(last) < cooldown {
				return nil
			}
		}
		allowed = true
		return putJSON(b, []byte(key), now)
	})
	s.track(err)
	return allowed, err
}

// LastNotified returns when key was last notified
func (s *BoltStore) LastNotified(key string) (time.Time, error) {
	var last time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNotifications).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("notification %q %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &last)
	})
	return last, err
}

func (s *BoltStore) track(err error) {
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
