// Package commands builds the CLI commands of the scenario runner.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/channelnet/scenario-runner/chain"
	"github.com/channelnet/scenario-runner/node"
	"github.com/channelnet/scenario-runner/pkg/logger"
	"github.com/channelnet/scenario-runner/runner"
	"github.com/channelnet/scenario-runner/scenario"
)

const envPrefix = "SCENARIO_RUNNER"

// NewRunCommand creates the run command: load a scenario document, drive the
// node cluster and chain against it, and report the verdict. Flags can also
// be set through SCENARIO_RUNNER_* environment variables.
func NewRunCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a scenario against a node cluster and chain RPC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, v, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringSlice("rpc-url", nil, "Chain RPC endpoint; repeat for backups (required)")
	flags.Duration("poll-interval", chain.DefaultPollInterval, "Block height polling interval")
	flags.Duration("budget-per-block", chain.DefaultBudgetPerBlock, "Wait budget granted per expected block")
	flags.Duration("min-budget", chain.DefaultMinBudget, "Minimum wait budget for any block wait")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = v.BindPFlags(flags)

	return cmd
}

func runScenario(cmd *cobra.Command, v *viper.Viper, path string) error {
	var level zapcore.Level
	if err := level.Set(v.GetString("log-level")); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	lggrCfg := logger.Config{Level: level}
	lggr, err := lggrCfg.New()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = lggr.Sync() }()

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	rpcURLs := v.GetStringSlice("rpc-url")
	if len(rpcURLs) == 0 {
		return fmt.Errorf("at least one --rpc-url is required")
	}

	ctx := cmd.Context()
	client, err := chain.Dial(ctx, sc.Settings.Chain, rpcURLs, lggr.Named("chain"))
	if err != nil {
		return err
	}
	defer client.Close()

	rc, err := buildRunContext(cmd, v, sc, client, lggr)
	if err != nil {
		return err
	}

	reporter := runner.NewMemoryReporter()
	summary, runErr := runner.New(rc, reporter, lggr.Named("runner")).Run(ctx, sc)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, summary.String())
	for _, failure := range summary.Failures {
		fmt.Fprintf(out, "  %s (%s): %s\n", failure.Name, failure.Status, failure.Err.Message)
	}
	if runErr != nil {
		return fmt.Errorf("scenario failed: %w", runErr)
	}

	return nil
}

func buildRunContext(
	cmd *cobra.Command, v *viper.Viper, sc *scenario.Scenario, client *chain.Client, lggr logger.Logger,
) (*runner.RunContext, error) {
	ctx := cmd.Context()

	poller := chain.NewPoller(client, chain.PollerConfig{
		Interval:       v.GetDuration("poll-interval"),
		BudgetPerBlock: v.GetDuration("budget-per-block"),
		MinBudget:      v.GetDuration("min-budget"),
	}, lggr.Named("poller"))

	registry, err := chain.NewRegistry(sc.Settings.Contracts)
	if err != nil {
		return nil, err
	}

	arena, err := node.NewArena(ctx, sc.Nodes, sc.Settings.Token.Address, lggr.Named("nodes"))
	if err != nil {
		return nil, err
	}

	var controller node.Controller = node.UnavailableController{}
	if sc.Nodes.Manager != "" {
		controller = node.NewManagerController(sc.Nodes.Manager, lggr.Named("manager"))
	}

	startBlock, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("record start block: %w", err)
	}

	gasPrice, err := chain.ResolveGasPrice(ctx, client, sc.Settings.GasPrice)
	if err != nil {
		return nil, err
	}
	if gasPrice != nil {
		lggr.Infow("Resolved gas price policy", "wei", gasPrice.String())
	}

	rc := runner.NewRunContext(arena, controller, client, poller, registry, sc.Settings, startBlock)
	rc.GasPrice = gasPrice

	return rc, nil
}
