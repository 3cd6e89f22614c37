package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var decideJSON bool

var decideCmd = &cobra.Command{
	Use:   "decide <path>",
	Short: "Evaluate a navigation request",
	Long: `Evaluate whether the current session may navigate to path and, if not,
where it would be sent instead.

Example:
  accountgate decide /driver/jobs`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a *app) error {
			d := a.account.Decide(args[0])
			if decideJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			out := cmd.OutOrStdout()
			if d.Allow {
				fmt.Fprintf(out, "allow %s (%s)\n", args[0], d.Reason)
				return nil
			}
			fmt.Fprintf(out, "redirect %s -> %s (%s)\n", args[0], d.Destination, d.Reason)
			if d.ReturnTo != "" {
				fmt.Fprintf(out, "  return to: %s\n", d.ReturnTo)
			}
			return nil
		})
	},
}

func init() {
	decideCmd.Flags().BoolVar(&decideJSON, "json", false, "print the decision as JSON")
	rootCmd.AddCommand(decideCmd)
}
