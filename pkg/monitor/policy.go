package monitor

import (
	"context"
	"fmt"

	"github.com/cuemby/sentinel/pkg/config"
	"github.com/cuemby/sentinel/pkg/types"
)

// AutoUpgradePolicy decides whether a newer release may be scheduled
// without operator approval
type AutoUpgradePolicy interface {
	Name() string
	Allow(component types.Component, current, candidate string) bool
}

// ManualPolicy never allows automatic upgrades
type ManualPolicy struct{}

func (ManualPolicy) Name() string { return config.PolicyManual }

func (ManualPolicy) Allow(types.Component, string, string) bool { return false }

// PatchPolicy allows newer releases within the installed major.minor line
type PatchPolicy struct{}

func (PatchPolicy) Name() string { return config.PolicyPatch }

func (PatchPolicy) Allow(_ types.Component, current, candidate string) bool {
	if types.CompareVersions(candidate, current) <= 0 {
		return false
	}
	curMajor, curMinor := types.MajorMinor(current)
	candMajor, candMinor := types.MajorMinor(candidate)
	return curMajor == candMajor && curMinor == candMinor
}

// AnyNewerPolicy allows every newer release
type AnyNewerPolicy struct{}

func (AnyNewerPolicy) Name() string { return config.PolicyAnyNewer }

func (AnyNewerPolicy) Allow(_ types.Component, current, candidate string) bool {
	return types.CompareVersions(candidate, current) > 0
}

// PolicyFor returns the policy for a mode and policy name. Manual mode
// always yields ManualPolicy.
func PolicyFor(mode, name string) (AutoUpgradePolicy, error) {
	if mode != config.ModeAuto {
		return ManualPolicy{}, nil
	}
	switch name {
	case config.PolicyManual:
		return ManualPolicy{}, nil
	case config.PolicyPatch:
		return PatchPolicy{}, nil
	case config.PolicyAnyNewer:
		return AnyNewerPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown auto-upgrade policy %q", name)
}

// GovernanceSource lists on-chain upgrade plans not yet executed
type GovernanceSource interface {
	Pending(ctx context.Context) ([]types.GovernanceProposal, error)
}

// NoGovernance reports no proposals
type NoGovernance struct{}

func (NoGovernance) Pending(context.Context) ([]types.GovernanceProposal, error) { return nil, nil }
