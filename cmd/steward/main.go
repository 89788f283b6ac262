package main

import (
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "steward",
		Short:   "Steward - agent governance and workflow execution engine",
		Long:    `Steward gates automated agent actions behind maturity-based governance and runs the workflows those actions trigger.`,
		Version: version,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newWorkflowCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
