package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/app"
)

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task> [args...]",
		Short: "Run a task and its dependencies",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				// Display command usage help without returning an error
				_ = cmd.Help()
				return nil
			}

			environment, _ := cmd.Flags().GetString("environment")
			force, _ := cmd.Flags().GetBool("force")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			watch, _ := cmd.Flags().GetBool("watch")
			jobs, _ := cmd.Flags().GetInt("jobs")

			opts := app.RunOptions{
				Dir:         projectDir(cmd),
				Task:        args[0],
				Environment: environment,
				Args:        args[1:],
				Force:       force,
				Parallelism: jobs,
			}

			if dryRun {
				commands, err := c.app.DryRun(cmd.Context(), opts)
				if err != nil {
					return err
				}
				for _, line := range commands {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			}

			if watch {
				return c.app.Watch(cmd.Context(), opts)
			}

			_, err := c.app.Run(cmd.Context(), opts)
			return err
		},
	}
	cmd.Flags().StringP("environment", "e", "", "Environment to run the task in")
	cmd.Flags().BoolP("force", "f", false, "Rerun even when inputs are unchanged")
	cmd.Flags().Bool("dry-run", false, "Print the commands that would run, in order, without running them")
	cmd.Flags().BoolP("watch", "w", false, "Rerun the task when project files change")
	cmd.Flags().IntP("jobs", "j", 1, "Maximum number of tasks to run in parallel")
	return cmd
}
