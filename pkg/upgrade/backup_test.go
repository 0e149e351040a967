package upgrade

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBackup(t *testing.T, root, name string, ts time.Time) string {
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(BackupMetadata{Component: types.ComponentConsensus, Timestamp: ts})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFile), data, 0644))
	return dir
}

func TestPruneBackups(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	old := writeBackup(t, root, "consensus_20250401_020000", now.AddDate(0, 0, -60))
	recent := writeBackup(t, root, "execution_20250520_020000", now.AddDate(0, 0, -10))
	unknown := filepath.Join(root, "manual")
	require.NoError(t, os.MkdirAll(unknown, 0755))

	removed, err := PruneBackups(root, 30*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, old)
	assert.DirExists(t, recent)
	assert.DirExists(t, unknown)
}

func TestPruneBackupsMissingRoot(t *testing.T) {
	removed, err := PruneBackups(filepath.Join(t.TempDir(), "none"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestUniqueDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "consensus_20250601_020000")

	first, err := uniqueDir(base)
	require.NoError(t, err)
	second, err := uniqueDir(base)
	require.NoError(t, err)

	assert.Equal(t, base, first)
	assert.Equal(t, base+"_1", second)
}

func TestParseVersionOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"geth", "Geth\nVersion: 1.0.2-stable\nGit Commit: abc\n", "1.0.2-stable"},
		{"story", "1.3.0-stable\ngit commit: def\n", "1.3.0-stable"},
		{"leading blank", "\n\n  v0.12.1 \n", "v0.12.1"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVersionOutput(tt.output))
		})
	}
}

func TestHistoryRecent(t *testing.T) {
	h := NewMemoryHistory()
	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		require.NoError(t, h.Append(types.UpgradeRecord{Component: types.ComponentExecution, ToVersion: v}))
	}
	require.NoError(t, h.Append(types.UpgradeRecord{Component: types.ComponentConsensus, ToVersion: "2.0.0"}))

	recent := h.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "1.2.0", recent[0].ToVersion)
	assert.Equal(t, "2.0.0", recent[1].ToVersion)

	last, ok := h.Last(types.ComponentExecution)
	require.True(t, ok)
	assert.Equal(t, "1.2.0", last.ToVersion)

	_, ok = h.Last("unknown")
	assert.False(t, ok)
}

func TestOpenHistoryCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrade_history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := OpenHistory(path)
	assert.Error(t, err)
}

func TestHistoryAppendsFromTwoHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrade_history.json")
	daemon, err := OpenHistory(path)
	require.NoError(t, err)
	cli, err := OpenHistory(path)
	require.NoError(t, err)

	require.NoError(t, cli.Append(types.UpgradeRecord{ID: "cli-upgrade", Component: types.ComponentConsensus}))
	require.NoError(t, daemon.Append(types.UpgradeRecord{ID: "daemon-upgrade", Component: types.ComponentExecution}))

	reopened, err := OpenHistory(path)
	require.NoError(t, err)
	records := reopened.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "cli-upgrade", records[0].ID)
	assert.Equal(t, "daemon-upgrade", records[1].ID)

	last, ok := daemon.Last(types.ComponentConsensus)
	require.True(t, ok)
	assert.Equal(t, "cli-upgrade", last.ID)
}

func TestHistoryKeepsRecordWhenWriteFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upgrade_history.json")
	h, err := OpenHistory(path)
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(path, 0755))
	err = h.Append(types.UpgradeRecord{ID: "first"})
	require.Error(t, err)
	assert.Equal(t, 1, h.Len())

	require.NoError(t, os.Remove(path))
	require.NoError(t, h.Append(types.UpgradeRecord{ID: "second"}))

	reopened, err := OpenHistory(path)
	require.NoError(t, err)
	records := reopened.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].ID)
	assert.Equal(t, "second", records[1].ID)
}
