// Package cmd wires the planloop CLI. Every command resolves its
// collaborators from the project configuration under .planloop/ in the
// working copy it runs in.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "planloop",
	Short: "Autonomous task orchestration for AI coding agents",
	Long: `planloop drives AI coding agents through a backlog of interdependent
work items. It keeps task state consistent across concurrent working
copies, allocates collision-free ids through a shared counter store,
and walks plans epic by epic under cost and retry budgets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// ExecuteContext runs the root command under ctx
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newLogger builds the process logger honoring --verbose
func newLogger() *log.Logger {
	if verbose {
		return log.New(log.VerboseConfig())
	}
	return log.New(log.DefaultConfig())
}
