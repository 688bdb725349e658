// Package cli implements the scheduler demo command-line interface using
// Cobra.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "schedulerdemo",
	Short: "schedulerdemo: drive the cost-aware scheduler from the command line",
	Long: `schedulerdemo runs a batch of synthetic tasks through the in-process
cost-aware scheduler and prints what got dispatched, deferred, or rejected.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute() error {
	return rootCmd.Execute()
}
