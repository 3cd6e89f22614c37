package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/swiftdrop/accountgate/internal/adapter/inbound/http"
	"github.com/swiftdrop/accountgate/internal/domain/session"
)

var (
	statusJSON    bool
	statusRefresh bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session and role",
	Long: `Show the persisted session and active account role.

With --refresh the session is first re-validated with the identity provider
and the granted roles are fetched again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			snap := a.account.Snapshot()
			if statusRefresh && snap.HasCredential {
				var err error
				if snap, err = a.account.Refresh(ctx); err != nil {
					return fmt.Errorf("refresh failed (%s): %w", session.KindOf(err), err)
				}
			}
			if statusJSON {
				return printJSON(cmd.OutOrStdout(), apihttp.NewSessionView(snap))
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the session view as JSON")
	statusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "re-validate with the identity provider first")
	rootCmd.AddCommand(statusCmd)
}

// printSnapshot renders snap for humans. Tokens are never printed.
func printSnapshot(w io.Writer, snap session.Snapshot) {
	v := apihttp.NewSessionView(snap)
	if !v.Authenticated {
		fmt.Fprintln(w, "Signed out.")
		return
	}
	fmt.Fprintf(w, "  %-14s %s\n", "Subject:", v.SubjectID)
	fmt.Fprintf(w, "  %-14s %s\n", "Expires:", v.ExpiresAt.Local().Format(time.RFC3339))
	active := v.ActiveRole
	if v.NeedsRoleSelection {
		active = "(select a role)"
	}
	fmt.Fprintf(w, "  %-14s %s\n", "Active role:", active)
	granted := strings.Join(v.GrantedRoles, ", ")
	if granted == "" {
		granted = "(none)"
	}
	fmt.Fprintf(w, "  %-14s %s\n", "Granted:", granted)
	if v.Degraded {
		fmt.Fprintf(w, "  %-14s %s\n", "Provider:", "unreachable, showing last known session")
	}
}
