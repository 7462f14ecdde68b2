package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Gas price strategies accepted by the gas_price setting in place of a fixed
// wei value.
const (
	GasPriceSlow   = "slow"
	GasPriceMedium = "medium"
	GasPriceFast   = "fast"
)

// GasPrice is either a fixed price in wei or a named strategy resolved
// against the chain's suggested gas price at run time.
type GasPrice struct {
	// Strategy is one of slow, medium or fast; empty when Wei is set.
	Strategy string
	// Wei is the fixed gas price; zero when Strategy is set.
	Wei uint64
}

// IsZero reports whether the setting was absent from the document.
func (g GasPrice) IsZero() bool {
	return g.Strategy == "" && g.Wei == 0
}

// UnmarshalYAML accepts either an integer wei value or a strategy name.
func (g *GasPrice) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return malformedf("gas_price must be a number or a strategy name")
	}
	if wei, err := strconv.ParseUint(value.Value, 10, 64); err == nil {
		g.Wei = wei
		return nil
	}
	switch strings.ToLower(value.Value) {
	case GasPriceSlow, GasPriceMedium, GasPriceFast:
		g.Strategy = strings.ToLower(value.Value)
		return nil
	}

	return malformedf("unknown gas_price strategy %q", value.Value)
}

// PFSSettings points the nodes at an external pathfinding service.
type PFSSettings struct {
	URL string `yaml:"url"`
}

// UDCTokenSettings configures funding of the user deposit token.
type UDCTokenSettings struct {
	Deposit    uint64 `yaml:"deposit"`
	MaxFunding uint64 `yaml:"max_funding"`
}

// UDCSettings configures the user deposit contract used to back
// monitoring-service rewards.
type UDCSettings struct {
	Enable bool             `yaml:"enable"`
	Token  UDCTokenSettings `yaml:"token"`
}

// ServicesSettings groups the external service configuration.
type ServicesSettings struct {
	PFS PFSSettings `yaml:"pfs"`
	UDC UDCSettings `yaml:"udc"`
}

// TokenSettings identifies the token network the scenario operates on.
// MinDeposit, when non-zero, is the funding minimum enforced on
// open_channel.
type TokenSettings struct {
	Address    string `yaml:"address"`
	MinDeposit uint64 `yaml:"min_deposit"`
}

// ContractSettings locates a deployed contract and names the events the
// scenario may assert on, keyed by event name with the full event signature
// as value, e.g. "NonClosingBalanceProofUpdated(address,uint256)".
type ContractSettings struct {
	Address string            `yaml:"address"`
	Events  map[string]string `yaml:"events"`
}

// Settings are the global scenario settings.
type Settings struct {
	GasPrice  GasPrice                    `yaml:"gas_price"`
	Chain     string                      `yaml:"chain"`
	Services  ServicesSettings            `yaml:"services"`
	Token     TokenSettings               `yaml:"token"`
	Contracts map[string]ContractSettings `yaml:"contracts"`
}

// NodesConfig describes the node cluster under test.
type NodesConfig struct {
	Mode string `yaml:"mode"`
	// Count is the number of nodes; action from/to/index fields must be in
	// [0, Count).
	Count int `yaml:"count"`
	// VersionConstraint is a semver constraint checked against the version
	// each node reports at startup.
	VersionConstraint string `yaml:"raiden_version"`
	// Endpoints are the control API base URLs, one per node.
	Endpoints []string `yaml:"endpoints"`
	// Manager is the base URL of the cluster manager used to stop and start
	// nodes.
	Manager        string         `yaml:"manager"`
	DefaultOptions map[string]any `yaml:"default_options"`
}

func (c NodesConfig) validate() error {
	if c.Count < 1 {
		return malformedf("nodes.count must be at least 1, got %d", c.Count)
	}
	if len(c.Endpoints) > 0 && len(c.Endpoints) != c.Count {
		return malformedf("nodes.endpoints has %d entries for %d nodes", len(c.Endpoints), c.Count)
	}
	if c.VersionConstraint != "" {
		if _, err := semver.NewConstraint(c.VersionConstraint); err != nil {
			return malformedf("invalid raiden_version constraint %q: %v", c.VersionConstraint, err)
		}
	}

	return nil
}

// CheckVersion reports whether a node-reported version satisfies the
// configured constraint. An empty constraint accepts every version.
func (c NodesConfig) CheckVersion(version string) error {
	if c.VersionConstraint == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(c.VersionConstraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", c.VersionConstraint, err)
	}
	v, err := semver.NewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return fmt.Errorf("node reported unparsable version %q: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("node version %s does not satisfy constraint %q", v, c.VersionConstraint)
	}

	return nil
}
