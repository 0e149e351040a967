package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCClientStatusWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sync_info":{"latest_block_height":"77","latest_block_time":"2025-01-01T00:00:00.123456789Z","catching_up":false},"validator_info":{"voting_power":"0"}}`))
	}))
	defer server.Close()

	status, err := NewRPCClient(server.URL + "/").Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(77), status.LatestBlockHeight)
	assert.False(t, status.CatchingUp)
	assert.Equal(t, 123456789, status.LatestBlockTime.Nanosecond())
}

func TestRPCClientNetPeersFallsBackToList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"peers":[{},{},{}]}}`))
	}))
	defer server.Close()

	peers, err := NewRPCClient(server.URL).NetPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, peers)
}

func TestRPCClientJSONRPCError(t *testing.T) {
	server := executionNode(t, map[string]string{})
	defer server.Close()

	_, err := NewRPCClient(server.URL).EthBlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestRPCClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewRPCClient(server.URL).WithTimeout(50 * time.Millisecond).Status(context.Background())
	assert.Error(t, err)
}

func TestSyncStateProgress(t *testing.T) {
	assert.Equal(t, 100.0, SyncState{}.Progress())
	assert.Equal(t, 0.0, SyncState{Syncing: true}.Progress())
	assert.Equal(t, 25.0, SyncState{Syncing: true, CurrentBlock: 25, HighestBlock: 100}.Progress())
}
