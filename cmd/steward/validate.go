package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/internal/workflow"
)

func newWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow definition tools",
	}
	cmd.AddCommand(newWorkflowValidateCommand())
	return cmd
}

func newWorkflowValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file or directory>",
		Short: "Validate workflow definition files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			if info.IsDir() {
				workflows, err := workflow.LoadWorkflowDir(path)
				if err != nil {
					return err
				}
				for _, wf := range workflows {
					fmt.Printf("ok: %s (%d steps)\n", wf.ID, len(wf.Steps))
				}
				fmt.Printf("%d workflow(s) valid\n", len(workflows))
				return nil
			}

			wf, err := workflow.LoadWorkflowFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %s (%d steps)\n", wf.ID, len(wf.Steps))
			return nil
		},
	}
}
