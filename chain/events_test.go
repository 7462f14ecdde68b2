package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelnet/scenario-runner/scenario"
)

const (
	monitoringAddr = "0x58c73CabCFB3c55B420E3F60a4b06098e9D1960E"
	updatedSig     = "NonClosingBalanceProofUpdated(address,uint256,uint256,address)"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     map[string]scenario.ContractSettings
		wantErr string
	}{
		{
			name: "valid",
			cfg: map[string]scenario.ContractSettings{
				"MonitoringService": {
					Address: monitoringAddr,
					Events:  map[string]string{"NonClosingBalanceProofUpdated": updatedSig},
				},
			},
		},
		{
			name: "invalid address",
			cfg: map[string]scenario.ContractSettings{
				"MonitoringService": {Address: "not-an-address"},
			},
			wantErr: "invalid address",
		},
		{
			name: "signature does not match event name",
			cfg: map[string]scenario.ContractSettings{
				"MonitoringService": {
					Address: monitoringAddr,
					Events:  map[string]string{"ChannelClosed": updatedSig},
				},
			},
			wantErr: "does not match event name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := NewRegistry(tt.cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			c, e, err := r.Resolve("MonitoringService", "NonClosingBalanceProofUpdated")
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(monitoringAddr), c.Address)
			assert.Equal(t, crypto.Keccak256Hash([]byte(updatedSig)), e.Topic)
		})
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(map[string]scenario.ContractSettings{
		"MonitoringService": {
			Address: monitoringAddr,
			Events:  map[string]string{"NonClosingBalanceProofUpdated": updatedSig},
		},
	})
	require.NoError(t, err)

	_, _, err = r.Resolve("TokenNetwork", "NonClosingBalanceProofUpdated")
	require.ErrorContains(t, err, `unknown contract "TokenNetwork"`)

	_, _, err = r.Resolve("MonitoringService", "ChannelClosed")
	require.ErrorContains(t, err, `no event "ChannelClosed"`)
}

type fakeFilterer struct {
	gotQuery ethereum.FilterQuery
	logs     []types.Log
	err      error
}

func (f *fakeFilterer) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.gotQuery = q

	return f.logs, f.err
}

func TestCountEvents(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(map[string]scenario.ContractSettings{
		"MonitoringService": {
			Address: monitoringAddr,
			Events:  map[string]string{"NonClosingBalanceProofUpdated": updatedSig},
		},
	})
	require.NoError(t, err)
	c, e, err := r.Resolve("MonitoringService", "NonClosingBalanceProofUpdated")
	require.NoError(t, err)

	f := &fakeFilterer{logs: make([]types.Log, 3)}
	count, err := CountEvents(context.Background(), f, c, e, 100, 210)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, uint64(100), f.gotQuery.FromBlock.Uint64())
	assert.Equal(t, uint64(210), f.gotQuery.ToBlock.Uint64())
	assert.Equal(t, []common.Address{c.Address}, f.gotQuery.Addresses)
	require.Len(t, f.gotQuery.Topics, 1)
	assert.Equal(t, []common.Hash{e.Topic}, f.gotQuery.Topics[0])

	f.err = errors.New("rpc down")
	_, err = CountEvents(context.Background(), f, c, e, 100, 210)
	require.ErrorContains(t, err, "filter logs for MonitoringService.NonClosingBalanceProofUpdated")
}
