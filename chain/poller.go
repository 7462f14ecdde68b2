package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/channelnet/scenario-runner/pkg/logger"
)

// ErrWaitTimedOut is returned when a wait_blocks budget is exceeded before
// the requested number of blocks was observed.
var ErrWaitTimedOut = errors.New("block wait budget exceeded")

// WaitState is the state of a single block wait: Idle before the baseline is
// taken, Polling while sampling, then Satisfied or TimedOut.
type WaitState int

const (
	WaitIdle WaitState = iota
	WaitPolling
	WaitSatisfied
	WaitTimedOut
)

func (s WaitState) String() string {
	switch s {
	case WaitIdle:
		return "idle"
	case WaitPolling:
		return "polling"
	case WaitSatisfied:
		return "satisfied"
	case WaitTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// BlockNumberReader reports the latest observed block height.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Poller defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultBudgetPerBlock = 30 * time.Second
	DefaultMinBudget      = 5 * time.Minute
)

// PollerConfig controls polling cadence and the wait budget. The budget for
// a wait of N blocks is max(MinBudget, N * BudgetPerBlock).
type PollerConfig struct {
	Interval       time.Duration
	BudgetPerBlock time.Duration
	MinBudget      time.Duration
}

func (c *PollerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.BudgetPerBlock <= 0 {
		c.BudgetPerBlock = DefaultBudgetPerBlock
	}
	if c.MinBudget <= 0 {
		c.MinBudget = DefaultMinBudget
	}
}

// Poller tracks block height through a BlockNumberReader and offers a
// blocking wait-for-N-further-blocks primitive. Each wait baselines the
// height at call entry; concurrent waits are independent.
type Poller struct {
	reader BlockNumberReader
	cfg    PollerConfig
	lggr   logger.Logger
}

// NewPoller creates a Poller over reader.
func NewPoller(reader BlockNumberReader, cfg PollerConfig, lggr logger.Logger) *Poller {
	cfg.applyDefaults()

	return &Poller{reader: reader, cfg: cfg, lggr: lggr}
}

// Budget returns the wait budget for a wait of count blocks.
func (p *Poller) Budget(count uint64) time.Duration {
	budget := time.Duration(count) * p.cfg.BudgetPerBlock //nolint:gosec // block counts are small
	if budget < p.cfg.MinBudget {
		budget = p.cfg.MinBudget
	}

	return budget
}

// WaitBlocks blocks until the observed height has advanced by at least count
// from the height recorded at call entry, the wait budget is exceeded
// (ErrWaitTimedOut), or ctx is canceled.
func (p *Poller) WaitBlocks(ctx context.Context, count uint64) error {
	_, err := p.Wait(ctx, count)

	return err
}

// Wait is WaitBlocks with the terminal state of the wait exposed. A height
// decrease (reorg) never satisfies the wait; the baseline is lowered to the
// observed height so the full count must be produced again on the surviving
// branch.
func (p *Poller) Wait(ctx context.Context, count uint64) (WaitState, error) {
	state := WaitIdle

	base, err := p.reader.BlockNumber(ctx)
	if err != nil {
		return state, fmt.Errorf("baseline block height: %w", err)
	}
	state = WaitPolling
	budget := p.Budget(count)
	p.lggr.Infow("Waiting for blocks", "count", count, "base", base, "budget", budget)

	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	tick := time.NewTicker(p.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-deadline.C:
			return WaitTimedOut, fmt.Errorf("%w: %d blocks from height %d within %s", ErrWaitTimedOut, count, base, budget)
		case <-tick.C:
			height, err := p.reader.BlockNumber(ctx)
			if err != nil {
				// Transient RPC failures just skip a sample; the budget
				// bounds the overall wait.
				p.lggr.Warnw("Block height sample failed", "error", err)
				continue
			}
			if height < base {
				p.lggr.Warnw("Block height decreased, re-baselining", "base", base, "height", height)
				base = height
				continue
			}
			if height-base >= count {
				p.lggr.Infow("Block wait satisfied", "count", count, "base", base, "height", height)

				return WaitSatisfied, nil
			}
			p.lggr.Debugw("Still waiting for blocks", "count", count, "base", base, "height", height)
		}
	}
}
