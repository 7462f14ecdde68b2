package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelnet/scenario-runner/node"
)

func ptr[T any](v T) *T { return &v }

func TestChannel(t *testing.T) {
	t.Parallel()

	observed := &node.Channel{
		ChannelID:    7,
		State:        node.ChannelStateClosed,
		TotalDeposit: 1000,
		Balance:      500,
	}

	tests := []struct {
		name      string
		exp       ChannelExpectation
		wantDiffs []FieldDiff
	}{
		{
			name: "all fields match",
			exp: ChannelExpectation{
				TotalDeposit: ptr(uint64(1000)),
				Balance:      ptr(uint64(500)),
				State:        ptr(node.ChannelStateClosed),
			},
		},
		{
			name: "unset fields are not checked",
			exp:  ChannelExpectation{State: ptr(node.ChannelStateClosed)},
		},
		{
			name: "single mismatch",
			exp:  ChannelExpectation{Balance: ptr(uint64(600))},
			wantDiffs: []FieldDiff{
				{Field: "balance", Expected: "600", Actual: "500"},
			},
		},
		{
			name: "every mismatch reported",
			exp: ChannelExpectation{
				TotalDeposit: ptr(uint64(2000)),
				Balance:      ptr(uint64(600)),
				State:        ptr(node.ChannelStateOpened),
			},
			wantDiffs: []FieldDiff{
				{Field: "total_deposit", Expected: "2000", Actual: "1000"},
				{Field: "balance", Expected: "600", Actual: "500"},
				{Field: "state", Expected: "opened", Actual: "closed"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Channel("channel 0->1", tt.exp, observed)
			if tt.wantDiffs == nil {
				require.NoError(t, err)
				return
			}

			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, "channel 0->1", aerr.Subject)
			assert.Equal(t, tt.wantDiffs, aerr.Diffs)
		})
	}
}

func TestChannel_ErrorMessage(t *testing.T) {
	t.Parallel()

	err := Channel("channel 0->1", ChannelExpectation{
		Balance: ptr(uint64(600)),
		State:   ptr(node.ChannelStateOpened),
	}, &node.Channel{Balance: 500, State: node.ChannelStateClosed})

	require.EqualError(t, err,
		"assertion failed on channel 0->1: balance: expected 600, got 500; state: expected opened, got closed")
}

func TestEventCount(t *testing.T) {
	t.Parallel()

	require.NoError(t, EventCount("MonitoringService", "NonClosingBalanceProofUpdated", 2, 2))

	// Zero is a real expectation, not an unset one.
	require.NoError(t, EventCount("MonitoringService", "NonClosingBalanceProofUpdated", 0, 0))

	err := EventCount("MonitoringService", "NonClosingBalanceProofUpdated", 0, 1)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "MonitoringService.NonClosingBalanceProofUpdated events", aerr.Subject)
	assert.Equal(t, []FieldDiff{{Field: "count", Expected: "0", Actual: "1"}}, aerr.Diffs)
}
