package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swiftdrop/accountgate/internal/service"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and wipe local state",
	Long: `Sign out with the identity provider and wipe the local session and every
role-scoped cache entry.

Local state is wiped even when the provider cannot be reached; the command
then reports the provider error and exits non-zero.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			err := a.account.Logout(ctx)
			var le *service.LogoutError
			switch {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			case errors.As(err, &le):
				fmt.Fprintln(cmd.OutOrStdout(), "Local state cleared.")
				return fmt.Errorf("provider sign-out failed after %d attempt(s): %w", le.Attempts, le.Err)
			default:
				return err
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
