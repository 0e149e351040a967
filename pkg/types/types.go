package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Component identifies which of the two node processes a value belongs to
type Component string

const (
	ComponentConsensus Component = "consensus"
	ComponentExecution Component = "execution"
)

// Components lists every component in probe order
var Components = []Component{ComponentExecution, ComponentConsensus}

// ParseComponent accepts the canonical names plus the historical aliases
// used by operators ("story", "story-geth", "geth").
func ParseComponent(s string) (Component, error) {
	switch s {
	case "consensus", "story":
		return ComponentConsensus, nil
	case "execution", "story-geth", "story_geth", "geth":
		return ComponentExecution, nil
	default:
		return "", fmt.Errorf("unknown component %q (expected consensus or execution)", s)
	}
}

func (c Component) String() string { return string(c) }

// ServiceIdentity describes one local node process and how to reach,
// control and upgrade it. Values are immutable once built from config.
type ServiceIdentity struct {
	Component   Component `json:"component"`
	Name        string    `json:"name"`
	BinaryPath  string    `json:"binary_path"`
	ServiceName string    `json:"service_name"`
	ProcessName string    `json:"process_name"`
	RPCEndpoint string    `json:"rpc_endpoint"`
	VersionArgs []string  `json:"version_args"`
	ReleaseRepo string    `json:"release_repo"`

	// ConfigDir is backed up alongside the binary; consensus only.
	ConfigDir string `json:"config_dir,omitempty"`

	// ArtifactPattern builds the release download URL. Placeholders:
	// {repo} {tag} {version} {arch}.
	ArtifactPattern string `json:"artifact_pattern"`

	// BuildCommand is run inside a fresh checkout when no artifact can
	// be downloaded; BuildOutput is the produced binary, relative to the
	// checkout.
	BuildCommand []string `json:"build_command"`
	BuildOutput  string   `json:"build_output"`
}

// IsConsensus reports whether the identity is the consensus client
func (s ServiceIdentity) IsConsensus() bool {
	return s.Component == ComponentConsensus
}

// Duration wraps time.Duration so persisted files and YAML carry
// human readable values such as "15m0s".
type Duration time.Duration

// MarshalJSON encodes the duration as a Go duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a Go duration string or a number of seconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the standard library duration
func (d Duration) Std() time.Duration { return time.Duration(d) }
