package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/channelnet/scenario-runner/scenario"
)

// Strategy multipliers applied to the chain's suggested gas price, in
// percent.
const (
	gasSlowPercent   = 90
	gasMediumPercent = 100
	gasFastPercent   = 150
)

// GasPriceSuggester returns the chain's current suggested gas price.
type GasPriceSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// ResolveGasPrice turns the scenario gas_price setting into a concrete price
// in wei. Fixed values pass through; strategy names scale the suggested gas
// price. A zero setting returns nil, leaving the choice to the nodes.
func ResolveGasPrice(ctx context.Context, s GasPriceSuggester, gp scenario.GasPrice) (*big.Int, error) {
	if gp.IsZero() {
		return nil, nil
	}
	if gp.Strategy == "" {
		return new(big.Int).SetUint64(gp.Wei), nil
	}

	suggested, err := s.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	var percent int64
	switch gp.Strategy {
	case scenario.GasPriceSlow:
		percent = gasSlowPercent
	case scenario.GasPriceMedium:
		percent = gasMediumPercent
	case scenario.GasPriceFast:
		percent = gasFastPercent
	default:
		return nil, fmt.Errorf("unknown gas price strategy %q", gp.Strategy)
	}

	price := new(big.Int).Mul(suggested, big.NewInt(percent))

	return price.Div(price, big.NewInt(100)), nil
}
