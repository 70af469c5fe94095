package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *CLI) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runnable tasks and the environments that define them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			refs, err := c.app.List(cmd.Context(), projectDir(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tENVIRONMENT")
			for _, ref := range refs {
				fmt.Fprintf(w, "%s\t%s\n", ref.Task, ref.Environment)
			}
			return w.Flush()
		},
	}
}
