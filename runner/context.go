package runner

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/channelnet/scenario-runner/chain"
	"github.com/channelnet/scenario-runner/node"
	"github.com/channelnet/scenario-runner/scenario"
)

// StoredChannel is a channel identity recorded by store_channel_info for use
// by later tasks.
type StoredChannel struct {
	ChannelID      uint64
	TokenAddress   string
	From           int
	To             int
	FromAddress    string
	PartnerAddress string
}

// RunContext holds everything action handlers need during one scenario run:
// the resolved node arena, the chain client and poller, global settings, and
// the shared named-value store. It is created at scenario start and discarded
// at scenario end; it is never shared across runs.
//
// The node arena and settings are read-only after construction. The channel
// store and event checkpoints are guarded for concurrent access from
// parallel branches.
type RunContext struct {
	Nodes      *node.Arena
	Controller node.Controller
	Chain      chain.RPC
	Poller     *chain.Poller
	Contracts  *chain.Registry
	Settings   scenario.Settings

	// GasPrice is the resolved gas price policy, nil when the scenario
	// leaves the choice to the nodes.
	GasPrice *big.Int

	// StartBlock is the chain height recorded at run start. It is the lower
	// bound of the first assert_events window.
	StartBlock uint64

	mu          sync.RWMutex
	channels    map[string]StoredChannel
	checkpoints map[eventKey]uint64
}

type eventKey struct {
	contract string
	event    string
}

// NewRunContext assembles a run context.
func NewRunContext(
	nodes *node.Arena,
	controller node.Controller,
	rpc chain.RPC,
	poller *chain.Poller,
	contracts *chain.Registry,
	settings scenario.Settings,
	startBlock uint64,
) *RunContext {
	return &RunContext{
		Nodes:       nodes,
		Controller:  controller,
		Chain:       rpc,
		Poller:      poller,
		Contracts:   contracts,
		Settings:    settings,
		StartBlock:  startBlock,
		channels:    make(map[string]StoredChannel),
		checkpoints: make(map[eventKey]uint64),
	}
}

// StoreChannel records channel info under key. Safe for concurrent insertion
// from parallel branches.
func (rc *RunContext) StoreChannel(key string, ch StoredChannel) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.channels[key] = ch
}

// Channel returns the channel info stored under key.
func (rc *RunContext) Channel(key string) (StoredChannel, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	ch, ok := rc.channels[key]
	if !ok {
		return StoredChannel{}, fmt.Errorf("no channel info stored under key %q", key)
	}

	return ch, nil
}

// NextEventWindow returns the block window an assert_events check covers and
// advances the checkpoint for the (contract, event) pair to head. The first
// window for a pair starts at the run's start block; each later window starts
// one block past the previous checkpoint, so counting is windowed rather than
// cumulative.
func (rc *RunContext) NextEventWindow(contract, event string, head uint64) (from, to uint64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := eventKey{contract: contract, event: event}
	from = rc.StartBlock
	if prev, ok := rc.checkpoints[key]; ok {
		from = prev + 1
	}
	rc.checkpoints[key] = head

	return from, head
}
