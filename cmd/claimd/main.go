// claimd is the issue-claim coordination daemon. It serves the operation
// surface over a unix socket to agent and human clients working a shared
// issue backlog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "claimd",
	Short:         "Issue-claim coordination daemon",
	Long:          "claimd coordinates exclusive issue claims, work stealing, handoffs, and load balancing across a swarm of agents and humans.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "claimd:", err)
		os.Exit(1)
	}
}
