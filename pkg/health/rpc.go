package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient talks to a node's local RPC endpoint. Consensus clients expose a
// CometBFT style REST interface; execution clients expose Ethereum JSON-RPC.
type RPCClient struct {
	// Endpoint is the base URL (e.g., "http://localhost:26657")
	Endpoint string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client

	id atomic.Int64
}

// NewRPCClient creates a new RPC client
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// WithTimeout sets the HTTP client timeout
func (r *RPCClient) WithTimeout(timeout time.Duration) *RPCClient {
	r.Client.Timeout = timeout
	return r
}

// WithHTTPClient replaces the HTTP client
func (r *RPCClient) WithHTTPClient(client *http.Client) *RPCClient {
	r.Client = client
	return r
}

// ConsensusStatus is the subset of /status the sentinel consumes
type ConsensusStatus struct {
	CatchingUp        bool
	LatestBlockHeight int64
	LatestBlockTime   time.Time
	RawBlockTime      string
	VotingPower       int64
}

type statusBody struct {
	SyncInfo struct {
		LatestBlockHeight flexInt `json:"latest_block_height"`
		LatestBlockTime   string  `json:"latest_block_time"`
		CatchingUp        bool    `json:"catching_up"`
	} `json:"sync_info"`
	ValidatorInfo struct {
		VotingPower flexInt `json:"voting_power"`
	} `json:"validator_info"`
}

// Status queries the consensus client's /status endpoint
func (r *RPCClient) Status(ctx context.Context) (*ConsensusStatus, error) {
	var body statusBody
	if err := r.get(ctx, "/status", &body); err != nil {
		return nil, err
	}

	status := &ConsensusStatus{
		CatchingUp:        body.SyncInfo.CatchingUp,
		LatestBlockHeight: int64(body.SyncInfo.LatestBlockHeight),
		RawBlockTime:      body.SyncInfo.LatestBlockTime,
		VotingPower:       int64(body.ValidatorInfo.VotingPower),
	}
	if body.SyncInfo.LatestBlockTime != "" {
		t, err := time.Parse(time.RFC3339Nano, body.SyncInfo.LatestBlockTime)
		if err != nil {
			return nil, fmt.Errorf("invalid latest_block_time %q: %w", body.SyncInfo.LatestBlockTime, err)
		}
		status.LatestBlockTime = t
	}
	return status, nil
}

// NetPeers queries the consensus client's /net_info endpoint
func (r *RPCClient) NetPeers(ctx context.Context) (int, error) {
	var body struct {
		NPeers flexInt           `json:"n_peers"`
		Peers  []json.RawMessage `json:"peers"`
	}
	if err := r.get(ctx, "/net_info", &body); err != nil {
		return 0, err
	}
	if body.NPeers == 0 && len(body.Peers) > 0 {
		return len(body.Peers), nil
	}
	return int(body.NPeers), nil
}

// get issues a GET and decodes either a bare body or a JSON-RPC style
// {"result": ...} envelope into out.
func (r *RPCClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	data, err := r.do(req)
	if err != nil {
		return err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Result) > 0 {
		data = envelope.Result
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// SyncState is the decoded result of eth_syncing
type SyncState struct {
	Syncing      bool
	CurrentBlock int64
	HighestBlock int64
}

// Progress returns sync progress as a percentage
func (s SyncState) Progress() float64 {
	if !s.Syncing {
		return 100
	}
	if s.HighestBlock <= 0 {
		return 0
	}
	return float64(s.CurrentBlock) / float64(s.HighestBlock) * 100
}

// EthSyncing calls eth_syncing. A false result means synced.
func (r *RPCClient) EthSyncing(ctx context.Context) (SyncState, error) {
	raw, err := r.call(ctx, "eth_syncing")
	if err != nil {
		return SyncState{}, err
	}

	var synced bool
	if err := json.Unmarshal(raw, &synced); err == nil {
		return SyncState{Syncing: synced}, nil
	}

	var progress struct {
		CurrentBlock string `json:"currentBlock"`
		HighestBlock string `json:"highestBlock"`
	}
	if err := json.Unmarshal(raw, &progress); err != nil {
		return SyncState{}, fmt.Errorf("unexpected eth_syncing result %s", string(raw))
	}

	current, _ := parseHex(progress.CurrentBlock)
	highest, _ := parseHex(progress.HighestBlock)
	return SyncState{Syncing: true, CurrentBlock: current, HighestBlock: highest}, nil
}

// EthBlockNumber calls eth_blockNumber
func (r *RPCClient) EthBlockNumber(ctx context.Context) (int64, error) {
	return r.callHex(ctx, "eth_blockNumber")
}

// NetPeerCount calls net_peerCount
func (r *RPCClient) NetPeerCount(ctx context.Context) (int, error) {
	n, err := r.callHex(ctx, "net_peerCount")
	return int(n), err
}

func (r *RPCClient) callHex(ctx context.Context, method string) (int64, error) {
	raw, err := r.call(ctx, method)
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unexpected %s result %s", method, string(raw))
	}
	return parseHex(s)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs a JSON-RPC 2.0 request and returns the raw result
func (r *RPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      r.id.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := r.do(req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}

func (r *RPCClient) do(req *http.Request) ([]byte, error) {
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return data, nil
}

func parseHex(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 16, 64)
}

// flexInt decodes integers that CometBFT encodes as strings
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", string(data))
	}
	*f = flexInt(n)
	return nil
}
