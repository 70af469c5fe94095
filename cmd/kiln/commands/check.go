package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

func (c *CLI) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the lock file against the manifest without modifying anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.app.Check(cmd.Context(), projectDir(cmd))
			if err != nil {
				return err
			}

			pairs := make([]string, 0, len(result))
			byLabel := make(map[string]string, len(result))
			for pair, verdict := range result {
				label := pair.Environment + " (" + pair.Platform.String() + ")"
				pairs = append(pairs, label)
				if verdict.Satisfied {
					byLabel[label] = "ok"
					continue
				}
				status := string(verdict.Reason)
				if verdict.Detail != "" {
					status += ": " + verdict.Detail
				}
				byLabel[label] = status
			}
			sort.Strings(pairs)
			for _, label := range pairs {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", label, byLabel[label])
			}

			if !result.AllSatisfied() {
				return zerr.With(zerr.New("lock file does not satisfy the manifest"),
					"unsatisfied", len(result.Unsatisfied()),
				)
			}
			return nil
		},
	}
}
