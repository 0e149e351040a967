package storage

import (
	"errors"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
)

// ErrNotFound is returned when a key has never been written
var ErrNotFound = errors.New("not found")

// Store defines the interface for sentinel state that outlives a process
type Store interface {
	// Health
	SaveSnapshot(snapshot types.Snapshot) error
	LastSnapshot() (*types.Snapshot, error)

	// Releases
	RecordRelease(component types.Component, version types.Version, seenAt time.Time) (bool, error)
	GetRelease(component types.Component) (*ReleaseObservation, error)
	ListReleases() ([]*ReleaseObservation, error)

	// Notifications
	ShouldNotify(key string, cooldown time.Duration, now time.Time) (bool, error)
	LastNotified(key string) (time.Time, error)

	// Utility
	Close() error
}

// ReleaseObservation is the newest upstream release seen for a component
type ReleaseObservation struct {
	Component types.Component `json:"component"`
	Version   types.Version   `json:"version"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
}
