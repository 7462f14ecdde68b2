package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/channelnet/scenario-runner/pkg/commands"
)

func main() {
	root := &cobra.Command{
		Use:          "scenario-runner",
		Short:        "Scenario-driven test orchestrator for payment-channel networks",
		SilenceUsage: true,
	}
	root.AddCommand(commands.NewRunCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
