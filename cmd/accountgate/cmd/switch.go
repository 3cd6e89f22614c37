package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

var switchCmd = &cobra.Command{
	Use:   "switch <role>",
	Short: "Change the active account role",
	Long: `Change the active account role to one of personal, business or driver.

The granted roles are fetched again before switching, so a role revoked since
sign-in is refused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := role.AccountRole(strings.ToLower(strings.TrimSpace(args[0])))
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sel, err := a.account.SwitchTo(ctx, target)
			switch {
			case err == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "Active role: %s\n", sel.ActiveRole)
				return nil
			case errors.Is(err, session.ErrNoSession):
				return errors.New("not signed in")
			case errors.Is(err, role.ErrNotGranted):
				return fmt.Errorf("role %q is not granted to this account", target)
			case errors.Is(err, role.ErrStaleGrantSet):
				return fmt.Errorf("role %q is no longer granted: %w", target, err)
			default:
				return fmt.Errorf("switch failed: %w", err)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(switchCmd)
}
