package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/channelnet/scenario-runner/scenario"
)

// Event is a contract event the scenario may assert on. Topic is the keccak
// hash of the canonical signature, matched against log topic 0.
type Event struct {
	Name      string
	Signature string
	Topic     common.Hash
}

// Contract is a deployed contract with its assertable events.
type Contract struct {
	Name    string
	Address common.Address
	Events  map[string]Event
}

// Registry resolves contract and event names from the scenario settings to
// addresses and log topics.
type Registry struct {
	contracts map[string]Contract
}

// NewRegistry builds a registry from the contracts section of the scenario
// settings.
func NewRegistry(cfg map[string]scenario.ContractSettings) (*Registry, error) {
	contracts := make(map[string]Contract, len(cfg))
	for name, c := range cfg {
		if !common.IsHexAddress(c.Address) {
			return nil, fmt.Errorf("contract %s has invalid address %q", name, c.Address)
		}
		events := make(map[string]Event, len(c.Events))
		for eventName, signature := range c.Events {
			sig := strings.ReplaceAll(signature, " ", "")
			if !strings.HasPrefix(sig, eventName+"(") || !strings.HasSuffix(sig, ")") {
				return nil, fmt.Errorf("contract %s: signature %q does not match event name %s", name, signature, eventName)
			}
			events[eventName] = Event{
				Name:      eventName,
				Signature: sig,
				Topic:     crypto.Keccak256Hash([]byte(sig)),
			}
		}
		contracts[name] = Contract{
			Name:    name,
			Address: common.HexToAddress(c.Address),
			Events:  events,
		}
	}

	return &Registry{contracts: contracts}, nil
}

// Resolve returns the contract and event for the given names.
func (r *Registry) Resolve(contract, event string) (Contract, Event, error) {
	c, ok := r.contracts[contract]
	if !ok {
		return Contract{}, Event{}, fmt.Errorf("unknown contract %q", contract)
	}
	e, ok := c.Events[event]
	if !ok {
		return Contract{}, Event{}, fmt.Errorf("contract %s has no event %q", contract, event)
	}

	return c, e, nil
}

// LogFilterer queries event logs.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// CountEvents returns the exact number of logs emitted by the contract
// matching the event in the inclusive block range [from, to]. The query is
// issued freshly on every call; results are never cached.
func CountEvents(ctx context.Context, f LogFilterer, c Contract, e Event, from, to uint64) (int, error) {
	logs, err := f.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.Address},
		Topics:    [][]common.Hash{{e.Topic}},
	})
	if err != nil {
		return 0, fmt.Errorf("filter logs for %s.%s: %w", c.Name, e.Name, err)
	}

	return len(logs), nil
}
