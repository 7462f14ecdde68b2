package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

// scriptedHeights replays a fixed sequence of block heights, repeating the
// last one once exhausted.
type scriptedHeights struct {
	mu      sync.Mutex
	heights []uint64
	errs    []error
	calls   int
}

func (s *scriptedHeights) BlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i >= len(s.heights) {
		i = len(s.heights) - 1
	}

	return s.heights[i], nil
}

func testPoller(t *testing.T, reader BlockNumberReader, budget time.Duration) *Poller {
	t.Helper()

	return NewPoller(reader, PollerConfig{
		Interval:       time.Millisecond,
		BudgetPerBlock: budget,
		MinBudget:      budget,
	}, logger.Test(t))
}

func TestPoller_WaitSatisfied(t *testing.T) {
	t.Parallel()

	reader := &scriptedHeights{heights: []uint64{100, 100, 101, 102, 103}}
	p := testPoller(t, reader, time.Second)

	state, err := p.Wait(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, WaitSatisfied, state)
}

func TestPoller_WaitTimedOut(t *testing.T) {
	t.Parallel()

	reader := &scriptedHeights{heights: []uint64{100}}
	p := testPoller(t, reader, 20*time.Millisecond)

	state, err := p.Wait(context.Background(), 5)
	require.ErrorIs(t, err, ErrWaitTimedOut)
	assert.Equal(t, WaitTimedOut, state)
}

func TestPoller_ReorgRebaselines(t *testing.T) {
	t.Parallel()

	// Height drops from 100 to 95 mid-wait. The wait must not be satisfied
	// until the new baseline of 95 has advanced by the full count again.
	reader := &scriptedHeights{heights: []uint64{100, 101, 95, 96, 96, 97}}
	p := testPoller(t, reader, time.Second)

	state, err := p.Wait(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, WaitSatisfied, state)

	reader.mu.Lock()
	calls := reader.calls
	reader.mu.Unlock()
	// Satisfied only at the sample where height reached 97 = 95 + 2.
	assert.GreaterOrEqual(t, calls, 6)
}

func TestPoller_TransientSampleErrors(t *testing.T) {
	t.Parallel()

	reader := &scriptedHeights{
		heights: []uint64{100, 100, 100, 101},
		errs:    []error{nil, errors.New("rpc hiccup"), errors.New("rpc hiccup"), nil},
	}
	p := testPoller(t, reader, time.Second)

	require.NoError(t, p.WaitBlocks(context.Background(), 1))
}

func TestPoller_BaselineError(t *testing.T) {
	t.Parallel()

	reader := &scriptedHeights{heights: []uint64{0}, errs: []error{errors.New("rpc down")}}
	p := testPoller(t, reader, time.Second)

	state, err := p.Wait(context.Background(), 1)
	require.ErrorContains(t, err, "baseline block height")
	assert.Equal(t, WaitIdle, state)
}

func TestPoller_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &scriptedHeights{heights: []uint64{100}}
	p := testPoller(t, reader, time.Second)

	_, err := p.Wait(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPoller_Budget(t *testing.T) {
	t.Parallel()

	p := NewPoller(&scriptedHeights{heights: []uint64{0}}, PollerConfig{
		Interval:       time.Second,
		BudgetPerBlock: 30 * time.Second,
		MinBudget:      5 * time.Minute,
	}, logger.Test(t))

	// Small waits get the floor, large waits scale per block.
	assert.Equal(t, 5*time.Minute, p.Budget(1))
	assert.Equal(t, 401*30*time.Second, p.Budget(401))
}
