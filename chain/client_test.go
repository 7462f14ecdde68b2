package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

// rpcServer answers JSON-RPC requests from a method-to-result table. A nil
// table entry or missing method produces a JSON-RPC error response.
func rpcServer(t *testing.T, results map[string]any) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok || result == nil {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32000, "message": "unavailable"},
			}))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}))
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func fastRetries() ClientOption {
	return WithRetryConfig(RetryConfig{
		Attempts:    2,
		Delay:       time.Millisecond,
		Timeout:     time.Second,
		DialTimeout: time.Second,
	})
}

func TestDial_HealthyEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := rpcServer(t, map[string]any{
		"eth_blockNumber": "0x64",
		"eth_gasPrice":    "0x3b9aca00",
		"eth_getLogs":     []any{},
	})

	c, err := Dial(context.Background(), "goerli", []string{srv.URL}, logger.Test(t), fastRetries())
	require.NoError(t, err)
	defer c.Close()

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x64), height)

	price, err := c.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), price.Uint64())

	logs, err := c.FilterLogs(context.Background(), ethereum.FilterQuery{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestDial_SkipsUnhealthyEndpoint(t *testing.T) {
	t.Parallel()

	sick, _ := rpcServer(t, nil)
	healthy, _ := rpcServer(t, map[string]any{"eth_blockNumber": "0xc8"})

	c, err := Dial(context.Background(), "goerli", []string{sick.URL, healthy.URL}, logger.Test(t), fastRetries())
	require.NoError(t, err)
	defer c.Close()

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0xc8), height)
}

func TestDial_NoUsableEndpoints(t *testing.T) {
	t.Parallel()

	sick, _ := rpcServer(t, nil)

	_, err := Dial(context.Background(), "goerli", []string{sick.URL}, logger.Test(t), fastRetries())
	require.ErrorContains(t, err, "no usable RPC endpoints for chain goerli")

	_, err = Dial(context.Background(), "goerli", nil, logger.Test(t))
	require.ErrorContains(t, err, "no RPC endpoints provided")
}

func TestClient_FailsOverToBackup(t *testing.T) {
	t.Parallel()

	// The flaky endpoint is healthy at dial time and fails afterwards; calls
	// must exhaust its retries and land on the backup.
	var healthChecks atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if healthChecks.Add(1) == 1 {
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": req.ID, "result": "0x64",
			}))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32000, "message": "unavailable"},
		}))
	}))
	t.Cleanup(flaky.Close)

	backup, backupCalls := rpcServer(t, map[string]any{"eth_blockNumber": "0x65"})

	c, err := Dial(context.Background(), "goerli", []string{flaky.URL, backup.URL}, logger.Test(t), fastRetries())
	require.NoError(t, err)
	defer c.Close()

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x65), height)
	assert.GreaterOrEqual(t, backupCalls.Load(), int32(2), "dial health check plus the failover call")
}
