package node

import (
	"context"
	"fmt"

	"github.com/channelnet/scenario-runner/pkg/logger"
	"github.com/channelnet/scenario-runner/scenario"
)

// Endpoint is one resolved node of the cluster: its control API client and
// its on-chain address.
type Endpoint struct {
	Index   int
	Address string
	Client  *Client
}

// Arena is the fixed-size set of resolved node endpoints, indexed by the
// from/to/index fields of scenario actions. It is populated once at startup
// and read-only afterwards.
type Arena struct {
	endpoints []Endpoint
}

// NewArena resolves every configured endpoint: it dials the node, records
// its on-chain address and checks the reported version against the
// configured constraint.
func NewArena(ctx context.Context, cfg scenario.NodesConfig, tokenAddress string, lggr logger.Logger, opts ...ClientOption) (*Arena, error) {
	if len(cfg.Endpoints) != cfg.Count {
		return nil, fmt.Errorf("have %d endpoints for %d nodes", len(cfg.Endpoints), cfg.Count)
	}

	endpoints := make([]Endpoint, cfg.Count)
	for i, url := range cfg.Endpoints {
		client := NewClient(url, tokenAddress, lggr.Named(fmt.Sprintf("node%d", i)), opts...)

		addr, err := client.Address(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve address of node %d at %s: %w", i, url, err)
		}
		version, err := client.Version(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve version of node %d at %s: %w", i, url, err)
		}
		if err := cfg.CheckVersion(version); err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}

		lggr.Infow("Resolved node endpoint", "index", i, "url", url, "address", addr, "version", version)
		endpoints[i] = Endpoint{Index: i, Address: addr, Client: client}
	}

	return &Arena{endpoints: endpoints}, nil
}

// NewArenaFromEndpoints builds an arena from already resolved endpoints,
// used by tests and embedders that resolve addresses out of band.
func NewArenaFromEndpoints(endpoints []Endpoint) *Arena {
	return &Arena{endpoints: endpoints}
}

// Get returns the endpoint for a node index.
func (a *Arena) Get(index int) (*Endpoint, error) {
	if index < 0 || index >= len(a.endpoints) {
		return nil, fmt.Errorf("node index %d out of range [0, %d)", index, len(a.endpoints))
	}

	return &a.endpoints[index], nil
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int { return len(a.endpoints) }
