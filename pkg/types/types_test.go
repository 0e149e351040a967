package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{"minor run is numeric not lexical", "1.10.0", "1.9.0", 1},
		{"trailing zero padding", "1.2.3", "1.2.3.0", 0},
		{"short equals padded", "1.3", "1.3.0", 0},
		{"prefix stripped", "v1.2.4", "1.2.3", 1},
		{"different prefixes", "release-0.9.13", "v0.10.0", -1},
		{"build metadata ignored when equal runs", "v1.1.0", "v1.1.0", 0},
		{"rc suffix adds a component", "v1.1.0-rc1", "v1.1.0", 1},
		{"major dominates", "2.0.0", "1.99.99", 1},
		{"empty is lowest", "", "0.0.1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
			assert.Equal(t, -tt.want, CompareVersions(tt.b, tt.a))
		})
	}
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "1.2.3", NormalizeVersion("v1.2.3"))
	assert.Equal(t, "1.0.0", NormalizeVersion("  story-v1.0.0 "))
	assert.Equal(t, "", NormalizeVersion("latest"))
}

func TestVersionNewerThan(t *testing.T) {
	v := NewVersion("v1.10.0")
	assert.Equal(t, "1.10.0", v.Number)
	assert.True(t, v.NewerThan("1.9.9"))
	assert.False(t, v.NewerThan("v1.10.0"))
	assert.False(t, v.NewerThan("1.10"))
}

func TestMajorMinor(t *testing.T) {
	major, minor := MajorMinor("v1.4.2")
	assert.Equal(t, 1, major)
	assert.Equal(t, 4, minor)

	major, minor = MajorMinor("7")
	assert.Equal(t, 7, major)
	assert.Equal(t, 0, minor)
}

func TestParseComponent(t *testing.T) {
	c, err := ParseComponent("story")
	require.NoError(t, err)
	assert.Equal(t, ComponentConsensus, c)

	c, err = ParseComponent("story-geth")
	require.NoError(t, err)
	assert.Equal(t, ComponentExecution, c)

	_, err = ParseComponent("cosmos")
	assert.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	data, err := json.Marshal(Duration(15 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"15m0s"`, string(data))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"10m"`), &d))
	assert.Equal(t, 10*time.Minute, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`900`), &d))
	assert.Equal(t, 15*time.Minute, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
}

func TestHealthReportChecksByName(t *testing.T) {
	report := HealthReport{
		Component: ComponentConsensus,
		Consensus: &ConsensusChecks{PeerCount: 12, CatchingUp: true, RPCReachable: true},
	}

	v, ok := report.Check("peer_count")
	require.True(t, ok)
	assert.Equal(t, 12, v)
	assert.Equal(t, 12, report.PeerCount())
	assert.False(t, report.Synced())

	_, ok = report.Check("syncing")
	assert.False(t, ok, "execution-only field must not appear on consensus report")
}

func TestSnapshotHealthy(t *testing.T) {
	snap := Snapshot{}
	assert.False(t, snap.Healthy(), "empty snapshot is never healthy")

	snap.Reports = map[Component]HealthReport{
		ComponentConsensus: {Healthy: true},
		ComponentExecution: {Healthy: true},
	}
	snap.System.Healthy = true
	assert.True(t, snap.Healthy())

	snap.Reports[ComponentExecution] = HealthReport{Healthy: false}
	assert.False(t, snap.Healthy())
}

func TestIssueSet(t *testing.T) {
	set := NewIssueSet()
	assert.Len(t, set, len(IssueKinds))
	assert.False(t, set.Any())
	assert.Equal(t, "none", set.String())

	set[IssueDiskCritical] = true
	set[IssueAppHashMismatch] = true
	assert.Equal(t, []IssueKind{IssueAppHashMismatch, IssueDiskCritical}, set.Active())
}

func TestScheduledUpgradeCovers(t *testing.T) {
	start := time.Date(2025, 1, 2, 2, 0, 0, 0, time.UTC)
	u := ScheduledUpgrade{ScheduledTime: start, EstimatedDuration: Duration(15 * time.Minute)}

	assert.True(t, u.Covers(start))
	assert.True(t, u.Covers(start.Add(15*time.Minute)))
	assert.False(t, u.Covers(start.Add(16*time.Minute)))
	assert.False(t, u.Covers(start.Add(-time.Second)))
}

func TestOutcomeDescriptionsDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, o := range []UpgradeOutcome{OutcomeSucceeded, OutcomeDryRun, OutcomeAborted, OutcomeRolledBack, OutcomeRollbackFailed} {
		d := o.Description()
		assert.False(t, seen[d], "duplicate description %q", d)
		seen[d] = true
	}
}
