package monitor

import (
	"testing"

	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    AutoUpgradePolicy
		current   string
		candidate string
		want      bool
	}{
		{"manual never", ManualPolicy{}, "1.0.0", "1.0.1", false},
		{"patch bump", PatchPolicy{}, "1.0.0", "1.0.1", true},
		{"patch with prefix", PatchPolicy{}, "v1.0.0", "v1.0.3", true},
		{"patch rejects minor", PatchPolicy{}, "1.0.9", "1.1.0", false},
		{"patch rejects major", PatchPolicy{}, "1.0.0", "2.0.0", false},
		{"patch rejects same", PatchPolicy{}, "1.0.1", "1.0.1", false},
		{"patch rejects older", PatchPolicy{}, "1.0.2", "1.0.1", false},
		{"any newer minor", AnyNewerPolicy{}, "1.0.9", "1.1.0", true},
		{"any newer major", AnyNewerPolicy{}, "1.0.0", "2.0.0", true},
		{"any rejects older", AnyNewerPolicy{}, "2.0.0", "1.9.9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allow(types.ComponentConsensus, tt.current, tt.candidate))
		})
	}
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		mode   string
		name   string
		want   string
		hasErr bool
	}{
		{config.ModeManual, config.PolicyAnyNewer, config.PolicyManual, false},
		{config.ModeManual, "bogus", config.PolicyManual, false},
		{config.ModeAuto, config.PolicyManual, config.PolicyManual, false},
		{config.ModeAuto, config.PolicyPatch, config.PolicyPatch, false},
		{config.ModeAuto, config.PolicyAnyNewer, config.PolicyAnyNewer, false},
		{config.ModeAuto, "bogus", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.mode+"/"+tt.name, func(t *testing.T) {
			p, err := PolicyFor(tt.mode, tt.name)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}
