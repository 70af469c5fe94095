package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Bring the lock file up to date with the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")

			_, changed, err := c.app.Lock(cmd.Context(), projectDir(cmd), force)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintln(cmd.OutOrStdout(), "lock file updated")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "lock file already up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Re-solve every environment, discarding recorded versions")
	return cmd
}
