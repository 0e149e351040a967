package types

import (
	"fmt"
	"time"
)

// ConsensusChecks holds the measurements the consensus client can produce
type ConsensusChecks struct {
	ServiceActive     bool    `json:"service_active"`
	RPCReachable      bool    `json:"rpc_reachable"`
	CatchingUp        bool    `json:"catching_up"`
	LatestBlockHeight int64   `json:"latest_block_height"`
	LatestBlockTime   string  `json:"latest_block_time,omitempty"`
	VotingPower       int64   `json:"voting_power"`
	PeerCount         int     `json:"peer_count"`
	AppHashErrors     int     `json:"app_hash_errors"`
	BlockLatency      float64 `json:"block_latency_seconds"`
	BlockLatencyOK    bool    `json:"block_latency_ok"`
	SyncProgress      float64 `json:"sync_progress"`
	MemoryGB          float64 `json:"memory_gb"`
}

// ExecutionChecks holds the measurements the execution client can produce
type ExecutionChecks struct {
	ServiceActive bool    `json:"service_active"`
	RPCReachable  bool    `json:"rpc_reachable"`
	Syncing       bool    `json:"syncing"`
	CurrentBlock  int64   `json:"current_block"`
	HighestBlock  int64   `json:"highest_block"`
	BlockHeight   int64   `json:"block_height"`
	PeerCount     int     `json:"peer_count"`
	SyncProgress  float64 `json:"sync_progress"`
	MemoryGB      float64 `json:"memory_gb"`
}

// Check is one named measurement of a report, in display order
type Check struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// HealthReport is an immutable snapshot of one service's health. Exactly
// one of Consensus or Execution is set, matching the owning service.
type HealthReport struct {
	Component Component        `json:"component"`
	Service   string           `json:"service"`
	Healthy   bool             `json:"healthy"`
	Consensus *ConsensusChecks `json:"consensus,omitempty"`
	Execution *ExecutionChecks `json:"execution,omitempty"`
	Message   string           `json:"message"`
	CheckedAt time.Time        `json:"checked_at"`
}

// Checks returns the measurements by name in a stable order
func (r HealthReport) Checks() []Check {
	switch {
	case r.Consensus != nil:
		c := r.Consensus
		return []Check{
			{"service_active", c.ServiceActive},
			{"rpc_reachable", c.RPCReachable},
			{"catching_up", c.CatchingUp},
			{"latest_block_height", c.LatestBlockHeight},
			{"latest_block_time", c.LatestBlockTime},
			{"voting_power", c.VotingPower},
			{"peer_count", c.PeerCount},
			{"app_hash_errors", c.AppHashErrors},
			{"block_latency_seconds", c.BlockLatency},
			{"block_latency_ok", c.BlockLatencyOK},
			{"sync_progress", c.SyncProgress},
			{"memory_gb", c.MemoryGB},
		}
	case r.Execution != nil:
		e := r.Execution
		return []Check{
			{"service_active", e.ServiceActive},
			{"rpc_reachable", e.RPCReachable},
			{"syncing", e.Syncing},
			{"current_block", e.CurrentBlock},
			{"highest_block", e.HighestBlock},
			{"block_height", e.BlockHeight},
			{"peer_count", e.PeerCount},
			{"sync_progress", e.SyncProgress},
			{"memory_gb", e.MemoryGB},
		}
	}
	return nil
}

// Check looks up a single measurement by name
func (r HealthReport) Check(name string) (interface{}, bool) {
	for _, c := range r.Checks() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// PeerCount returns the peer measurement regardless of variant
func (r HealthReport) PeerCount() int {
	switch {
	case r.Consensus != nil:
		return r.Consensus.PeerCount
	case r.Execution != nil:
		return r.Execution.PeerCount
	}
	return 0
}

// BlockHeight returns the latest known block height regardless of variant
func (r HealthReport) BlockHeight() int64 {
	switch {
	case r.Consensus != nil:
		return r.Consensus.LatestBlockHeight
	case r.Execution != nil:
		return r.Execution.BlockHeight
	}
	return 0
}

// MemoryGB returns the process memory footprint regardless of variant
func (r HealthReport) MemoryGB() float64 {
	switch {
	case r.Consensus != nil:
		return r.Consensus.MemoryGB
	case r.Execution != nil:
		return r.Execution.MemoryGB
	}
	return 0
}

// Synced reports whether the node considers itself caught up
func (r HealthReport) Synced() bool {
	switch {
	case r.Consensus != nil:
		return r.Consensus.RPCReachable && !r.Consensus.CatchingUp
	case r.Execution != nil:
		return r.Execution.RPCReachable && !r.Execution.Syncing
	}
	return false
}

// ServiceActive reports the liveness measurement regardless of variant
func (r HealthReport) ServiceActive() bool {
	switch {
	case r.Consensus != nil:
		return r.Consensus.ServiceActive
	case r.Execution != nil:
		return r.Execution.ServiceActive
	}
	return false
}

// SystemReport captures host resources
type SystemReport struct {
	Healthy           bool      `json:"healthy"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryAvailableGB float64   `json:"memory_available_gb"`
	MemoryTotalGB     float64   `json:"memory_total_gb"`
	DiskFreeGB        float64   `json:"disk_free_gb"`
	DiskTotalGB       float64   `json:"disk_total_gb"`
	Load1             float64   `json:"load_1m"`
	Load5             float64   `json:"load_5m"`
	Load15            float64   `json:"load_15m"`
	Message           string    `json:"message"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Snapshot is the result of one probe cycle: one report per service plus
// the host resources.
type Snapshot struct {
	Reports   map[Component]HealthReport `json:"reports"`
	System    SystemReport               `json:"system"`
	CheckedAt time.Time                  `json:"checked_at"`
}

// Healthy reports whether every service and the host are healthy
func (s Snapshot) Healthy() bool {
	if len(s.Reports) == 0 {
		return false
	}
	for _, r := range s.Reports {
		if !r.Healthy {
			return false
		}
	}
	return s.System.Healthy
}

// IssueKind enumerates the operational problems the detector recognises
type IssueKind string

const (
	IssueAppHashMismatch IssueKind = "app_hash_mismatch"
	IssueStateCorruption IssueKind = "state_corruption"
	IssuePeerIsolation   IssueKind = "peer_isolation"
	IssueMemoryLeak      IssueKind = "memory_leak"
	IssueDiskCritical    IssueKind = "disk_critical"
)

// IssueKinds lists every kind in display order
var IssueKinds = []IssueKind{
	IssueAppHashMismatch,
	IssueStateCorruption,
	IssuePeerIsolation,
	IssueMemoryLeak,
	IssueDiskCritical,
}

// IssueSet maps every issue kind to whether it is currently detected
type IssueSet map[IssueKind]bool

// NewIssueSet returns a set with every kind present and false
func NewIssueSet() IssueSet {
	set := make(IssueSet, len(IssueKinds))
	for _, k := range IssueKinds {
		set[k] = false
	}
	return set
}

// Active returns the detected kinds in display order
func (s IssueSet) Active() []IssueKind {
	var active []IssueKind
	for _, k := range IssueKinds {
		if s[k] {
			active = append(active, k)
		}
	}
	return active
}

// Any reports whether at least one issue is detected
func (s IssueSet) Any() bool {
	return len(s.Active()) > 0
}

func (s IssueSet) String() string {
	active := s.Active()
	if len(active) == 0 {
		return "none"
	}
	return fmt.Sprint(active)
}
