package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	active map[string]bool
	err    error
	calls  int
	mu     sync.Mutex
}

func (f *fakeServices) IsActive(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.active[name], nil
}

type fakeLogs struct {
	lines []string
	err   error
}

func (f *fakeLogs) Recent(ctx context.Context, unit string, n int) ([]string, error) {
	return f.lines, f.err
}

type fakeProcesses struct {
	rss map[string]uint64
}

func (f *fakeProcesses) ResidentMemory(name string) (uint64, error) {
	if v, ok := f.rss[name]; ok {
		return v, nil
	}
	return 0, errors.New("not found")
}

type fakeSystem struct {
	stats SystemStats
	err   error
}

func (f *fakeSystem) Stats(ctx context.Context) (SystemStats, error) {
	return f.stats, f.err
}

// consensusNode serves /status and /net_info with mutable values
type consensusNode struct {
	mu         sync.Mutex
	catchingUp bool
	height     int64
	blockTime  time.Time
	peers      int
}

func (c *consensusNode) set(height int64, blockTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
	c.blockTime = blockTime
}

func (c *consensusNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch r.URL.Path {
	case "/status":
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":-1,"result":{"sync_info":{"latest_block_height":"%d","latest_block_time":"%s","catching_up":%t},"validator_info":{"voting_power":"42"}}}`,
			c.height, c.blockTime.Format(time.RFC3339Nano), c.catchingUp)
	case "/net_info":
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":-1,"result":{"n_peers":"%d","peers":[]}}`, c.peers)
	default:
		http.NotFound(w, r)
	}
}

func executionNode(t *testing.T, results map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     int64  `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
			return
		}
		result, ok := results[req.Method]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}))
}

func consensusIdentity(endpoint string) types.ServiceIdentity {
	return types.ServiceIdentity{
		Component:   types.ComponentConsensus,
		Name:        "story",
		ServiceName: "story",
		ProcessName: "story",
		RPCEndpoint: endpoint,
	}
}

func executionIdentity(endpoint string) types.ServiceIdentity {
	return types.ServiceIdentity{
		Component:   types.ComponentExecution,
		Name:        "story-geth",
		ServiceName: "story-geth",
		ProcessName: "story-geth",
		RPCEndpoint: endpoint,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = time.Second
	return cfg
}

func newTestProber(cfg Config, services ServiceStatus, logs LogSource) *Prober {
	return NewProber(cfg, services).
		WithLogs(logs).
		WithProcesses(&fakeProcesses{rss: map[string]uint64{"story": 3 << 30}}).
		WithSystem(&fakeSystem{})
}

func TestProbeConsensusHealthy(t *testing.T) {
	node := &consensusNode{height: 100, blockTime: time.Now(), peers: 12}
	server := httptest.NewServer(node)
	defer server.Close()

	services := &fakeServices{active: map[string]bool{"story": true}}
	prober := newTestProber(testConfig(), services, &fakeLogs{lines: []string{"committed state", "executed block"}})

	report := prober.Probe(context.Background(), consensusIdentity(server.URL))

	assert.True(t, report.Healthy, report.Message)
	require.NotNil(t, report.Consensus)
	assert.Nil(t, report.Execution)
	assert.Equal(t, int64(100), report.Consensus.LatestBlockHeight)
	assert.Equal(t, 12, report.Consensus.PeerCount)
	assert.Equal(t, int64(42), report.Consensus.VotingPower)
	assert.InDelta(t, 3.0, report.Consensus.MemoryGB, 0.001)
	assert.Equal(t, "healthy", report.Message)
}

func TestProbeCatchingUpIsUnhealthy(t *testing.T) {
	node := &consensusNode{catchingUp: true, height: 5, blockTime: time.Now(), peers: 50}
	server := httptest.NewServer(node)
	defer server.Close()

	services := &fakeServices{active: map[string]bool{"story": true}}
	prober := newTestProber(testConfig(), services, &fakeLogs{})

	report := prober.Probe(context.Background(), consensusIdentity(server.URL))

	assert.False(t, report.Healthy)
	assert.True(t, report.Consensus.CatchingUp)
	assert.Equal(t, 50, report.Consensus.PeerCount)
	assert.Zero(t, report.Consensus.AppHashErrors)
	assert.Contains(t, report.Message, "catching up")
}

func TestProbeAppHashErrorsAreUnhealthy(t *testing.T) {
	node := &consensusNode{height: 10, blockTime: time.Now(), peers: 10}
	server := httptest.NewServer(node)
	defer server.Close()

	logs := &fakeLogs{lines: []string{
		"ERR wrong App Hash expected=ABC got=DEF",
		"normal line",
		"CONSENSUS FAILURE: app hash mismatch",
	}}
	prober := newTestProber(testConfig(), &fakeServices{active: map[string]bool{"story": true}}, logs)

	report := prober.Probe(context.Background(), consensusIdentity(server.URL))

	assert.False(t, report.Healthy)
	assert.Equal(t, 2, report.Consensus.AppHashErrors)
}

func TestProbeFewPeersIsUnhealthy(t *testing.T) {
	node := &consensusNode{height: 10, blockTime: time.Now(), peers: 2}
	server := httptest.NewServer(node)
	defer server.Close()

	prober := newTestProber(testConfig(), &fakeServices{active: map[string]bool{"story": true}}, &fakeLogs{})
	report := prober.Probe(context.Background(), consensusIdentity(server.URL))

	assert.False(t, report.Healthy)
	assert.Contains(t, report.Message, "peers 2 < 5")
}

func TestProbeUnreachableRPCDefaultsToUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	services := &fakeServices{active: map[string]bool{"story": true}}
	prober := newTestProber(testConfig(), services, &fakeLogs{err: errors.New("journal unavailable")})

	report := prober.Probe(context.Background(), consensusIdentity(server.URL))

	assert.False(t, report.Healthy)
	assert.False(t, report.Consensus.RPCReachable)
	assert.Zero(t, report.Consensus.PeerCount)
	assert.Contains(t, report.Message, "rpc unreachable")
}

func TestProbeServiceInactive(t *testing.T) {
	node := &consensusNode{height: 10, blockTime: time.Now(), peers: 10}
	server := httptest.NewServer(node)
	defer server.Close()

	tests := []struct {
		name     string
		services *fakeServices
	}{
		{"inactive", &fakeServices{active: map[string]bool{"story": false}}},
		{"query error", &fakeServices{err: errors.New("dbus down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := newTestProber(testConfig(), tt.services, &fakeLogs{})
			report := prober.Probe(context.Background(), consensusIdentity(server.URL))
			assert.False(t, report.Healthy)
			assert.False(t, report.Consensus.ServiceActive)
		})
	}
}

func TestProbeContainerModeSkipsLiveness(t *testing.T) {
	node := &consensusNode{height: 10, blockTime: time.Now(), peers: 10}
	server := httptest.NewServer(node)
	defer server.Close()

	cfg := testConfig()
	cfg.ContainerMode = true
	services := &fakeServices{err: errors.New("no systemd in container")}
	prober := newTestProber(cfg, services, &fakeLogs{})

	report := prober.Probe(context.Background(), consensusIdentity(server.URL))

	assert.True(t, report.Healthy, report.Message)
	assert.True(t, report.Consensus.ServiceActive)
	assert.Zero(t, services.calls)
}

func TestProbeBlockLatency(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)

	node := &consensusNode{height: 100, blockTime: start, peers: 10}
	server := httptest.NewServer(node)
	defer server.Close()

	prober := newTestProber(testConfig(), &fakeServices{active: map[string]bool{"story": true}}, &fakeLogs{}).
		WithClock(clk)
	svc := consensusIdentity(server.URL)

	// first observation always passes
	report := prober.Probe(context.Background(), svc)
	assert.True(t, report.Consensus.BlockLatencyOK)

	// 10 blocks in 20s: 2s per block
	clk.Advance(20 * time.Second)
	node.set(110, start.Add(20*time.Second))
	report = prober.Probe(context.Background(), svc)
	assert.True(t, report.Healthy, report.Message)
	assert.InDelta(t, 2.0, report.Consensus.BlockLatency, 0.001)

	// 1 block in 30s exceeds the 10s variance
	clk.Advance(30 * time.Second)
	node.set(111, start.Add(50*time.Second))
	report = prober.Probe(context.Background(), svc)
	assert.False(t, report.Healthy)
	assert.False(t, report.Consensus.BlockLatencyOK)

	// stalled chain: no new block for 15s of wall time
	clk.Advance(15 * time.Second)
	report = prober.Probe(context.Background(), svc)
	assert.False(t, report.Consensus.BlockLatencyOK)
	assert.InDelta(t, 15.0, report.Consensus.BlockLatency, 0.001)
}

func TestProbeBlockLatencyIsPerService(t *testing.T) {
	start := time.Now()
	nodeA := &consensusNode{height: 1, blockTime: start, peers: 10}
	nodeB := &consensusNode{height: 1000, blockTime: start.Add(-time.Hour), peers: 10}
	serverA := httptest.NewServer(nodeA)
	defer serverA.Close()
	serverB := httptest.NewServer(nodeB)
	defer serverB.Close()

	prober := newTestProber(testConfig(), &fakeServices{active: map[string]bool{"a": true, "b": true}}, &fakeLogs{})

	a := consensusIdentity(serverA.URL)
	a.ServiceName = "a"
	b := consensusIdentity(serverB.URL)
	b.ServiceName = "b"

	assert.True(t, prober.Probe(context.Background(), a).Consensus.BlockLatencyOK)
	assert.True(t, prober.Probe(context.Background(), b).Consensus.BlockLatencyOK)
}

func TestProbeExecution(t *testing.T) {
	tests := []struct {
		name         string
		results      map[string]string
		wantHealthy  bool
		wantSyncing  bool
		wantPeers    int
		wantHeight   int64
		wantProgress float64
	}{
		{
			name: "synced",
			results: map[string]string{
				"eth_syncing":     "false",
				"eth_blockNumber": `"0x1a4"`,
				"net_peerCount":   `"0x19"`,
			},
			wantHealthy:  true,
			wantPeers:    25,
			wantHeight:   420,
			wantProgress: 100,
		},
		{
			name: "syncing",
			results: map[string]string{
				"eth_syncing":     `{"currentBlock":"0x32","highestBlock":"0x64"}`,
				"eth_blockNumber": `"0x32"`,
				"net_peerCount":   `"0x19"`,
			},
			wantSyncing:  true,
			wantPeers:    25,
			wantHeight:   50,
			wantProgress: 50,
		},
		{
			name: "too few peers",
			results: map[string]string{
				"eth_syncing":     "false",
				"eth_blockNumber": `"0x10"`,
				"net_peerCount":   `"0x1"`,
			},
			wantPeers:    1,
			wantHeight:   16,
			wantProgress: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := executionNode(t, tt.results)
			defer server.Close()

			prober := newTestProber(testConfig(), &fakeServices{active: map[string]bool{"story-geth": true}}, &fakeLogs{})
			report := prober.Probe(context.Background(), executionIdentity(server.URL))

			require.NotNil(t, report.Execution)
			assert.Nil(t, report.Consensus)
			assert.Equal(t, tt.wantHealthy, report.Healthy, report.Message)
			assert.Equal(t, tt.wantSyncing, report.Execution.Syncing)
			assert.Equal(t, tt.wantPeers, report.Execution.PeerCount)
			assert.Equal(t, tt.wantHeight, report.Execution.BlockHeight)
			assert.InDelta(t, tt.wantProgress, report.Execution.SyncProgress, 0.001)
		})
	}
}

func TestProbeSystem(t *testing.T) {
	tests := []struct {
		name        string
		stats       SystemStats
		err         error
		wantHealthy bool
	}{
		{
			name:        "plenty of resources",
			stats:       SystemStats{CPUPercent: 20, MemAvailable: 8 << 30, DiskFree: 200 << 30},
			wantHealthy: true,
		},
		{
			name:  "low disk",
			stats: SystemStats{CPUPercent: 20, MemAvailable: 8 << 30, DiskFree: 4 << 30},
		},
		{
			name:  "low memory",
			stats: SystemStats{CPUPercent: 20, MemAvailable: 1 << 30, DiskFree: 200 << 30},
		},
		{
			name:  "cpu saturated",
			stats: SystemStats{CPUPercent: 97, MemAvailable: 8 << 30, DiskFree: 200 << 30},
		},
		{
			name: "read failure",
			err:  errors.New("no procfs"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := NewProber(testConfig(), nil).WithSystem(&fakeSystem{stats: tt.stats, err: tt.err})
			report := prober.ProbeSystem(context.Background())
			assert.Equal(t, tt.wantHealthy, report.Healthy, report.Message)
		})
	}
}

func TestProbeAllOneReportPerService(t *testing.T) {
	node := &consensusNode{height: 10, blockTime: time.Now(), peers: 10}
	consensus := httptest.NewServer(node)
	defer consensus.Close()
	execution := executionNode(t, map[string]string{
		"eth_syncing":     "false",
		"eth_blockNumber": `"0x10"`,
		"net_peerCount":   `"0x10"`,
	})
	defer execution.Close()

	services := &fakeServices{active: map[string]bool{"story": true, "story-geth": true}}
	prober := newTestProber(testConfig(), services, &fakeLogs{}).
		WithSystem(&fakeSystem{stats: SystemStats{MemAvailable: 16 << 30, DiskFree: 500 << 30}})

	snapshot := prober.ProbeAll(context.Background(), []types.ServiceIdentity{
		executionIdentity(execution.URL),
		consensusIdentity(consensus.URL),
	})

	require.Len(t, snapshot.Reports, 2)
	assert.Equal(t, types.ComponentConsensus, snapshot.Reports[types.ComponentConsensus].Component)
	assert.Equal(t, types.ComponentExecution, snapshot.Reports[types.ComponentExecution].Component)
	assert.True(t, snapshot.Healthy())
}

func TestCountMatches(t *testing.T) {
	lines := []string{"App Hash mismatch", "APPHASH", "panic: corruption", "ok"}
	assert.Equal(t, 1, CountMatches(lines, "app hash"))
	assert.Equal(t, 2, CountMatches(lines, "app hash", "apphash"))
	assert.Equal(t, 1, CountMatches(lines, "panic"))
}
