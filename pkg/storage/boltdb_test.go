package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LastSnapshot()
	assert.True(t, errors.Is(err, ErrNotFound))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := types.Snapshot{
		Reports: map[types.Component]types.HealthReport{
			types.ComponentConsensus: {
				Component: types.ComponentConsensus,
				Service:   "story",
				Healthy:   true,
				Consensus: &types.ConsensusChecks{PeerCount: 12, LatestBlockHeight: 1000},
				CheckedAt: now,
			},
			types.ComponentExecution: {
				Component: types.ComponentExecution,
				Service:   "story-geth",
				Execution: &types.ExecutionChecks{Syncing: true},
				Message:   "syncing",
				CheckedAt: now,
			},
		},
		System:    types.SystemReport{Healthy: true, DiskFreeGB: 120, CheckedAt: now},
		CheckedAt: now,
	}
	require.NoError(t, store.SaveSnapshot(snapshot))

	loaded, err := store.LastSnapshot()
	require.NoError(t, err)
	require.Len(t, loaded.Reports, 2)
	assert.True(t, loaded.CheckedAt.Equal(now))
	assert.Equal(t, 12, loaded.Reports[types.ComponentConsensus].PeerCount())
	assert.False(t, loaded.Reports[types.ComponentExecution].Healthy)
	assert.Equal(t, 120.0, loaded.System.DiskFreeGB)
}

func TestRecordRelease(t *testing.T) {
	store := newTestStore(t)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	changed, err := store.RecordRelease(types.ComponentConsensus, types.NewVersion("v1.3.0"), t0)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.RecordRelease(types.ComponentConsensus, types.NewVersion("v1.3.0"), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	obs, err := store.GetRelease(types.ComponentConsensus)
	require.NoError(t, err)
	assert.True(t, obs.FirstSeen.Equal(t0))
	assert.True(t, obs.LastSeen.Equal(t0.Add(time.Hour)))

	changed, err = store.RecordRelease(types.ComponentConsensus, types.NewVersion("v1.4.0"), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = store.GetRelease(types.ComponentExecution)
	assert.True(t, errors.Is(err, ErrNotFound))

	all, err := store.ListReleases()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "1.4.0", all[0].Version.Number)
}

func TestShouldNotifyCooldown(t *testing.T) {
	store := newTestStore(t)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	ok, err := store.ShouldNotify("issue:peer_isolation", time.Hour, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ShouldNotify("issue:peer_isolation", time.Hour, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ShouldNotify("issue:disk_critical", time.Hour, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ShouldNotify("issue:peer_isolation", time.Hour, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	last, err := store.LastNotified("issue:peer_isolation")
	require.NoError(t, err)
	assert.True(t, last.Equal(t0.Add(time.Hour)))
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	_, err = store.RecordRelease(types.ComponentExecution, types.NewVersion("v1.0.2"), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, path, reopened.Path())

	obs, err := reopened.GetRelease(types.ComponentExecution)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.2", obs.Version.Tag)
}

func TestStoreRegistersHealth(t *testing.T) {
	metrics.Reset()
	newTestStore(t)

	health := metrics.GetHealth()
	require.Len(t, health.Components, 1)
	assert.Equal(t, metrics.ComponentStore, health.Components[0].Name)
	assert.True(t, health.Components[0].Healthy)
}
