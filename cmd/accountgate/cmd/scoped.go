package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/port/outbound"
)

var scopedRole string

var scopedCmd = &cobra.Command{
	Use:   "scoped",
	Short: "Read and write role-scoped cached data",
	Long: `Read and write data cached for the signed-in subject under one account
role. Entries are removed on logout and on a subject change.

The role defaults to the active role; --role selects another granted role.`,
}

var scopedPutCmd = &cobra.Command{
	Use:   "put <name> [value]",
	Short: "Store a value (read from stdin when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value []byte
		if len(args) == 2 {
			value = []byte(args[1])
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read value: %w", err)
			}
			value = data
		}
		return withScope(cmd, func(ctx context.Context, a *app, subject string, r role.AccountRole) error {
			key := outbound.ScopedKey{SubjectID: subject, Role: r, Name: args[0]}
			if err := a.cache.PutScoped(ctx, key, value); err != nil {
				return fmt.Errorf("store %s: %w", key, err)
			}
			return nil
		})
	},
}

var scopedGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScope(cmd, func(ctx context.Context, a *app, subject string, r role.AccountRole) error {
			key := outbound.ScopedKey{SubjectID: subject, Role: r, Name: args[0]}
			value, err := a.cache.GetScoped(ctx, key)
			if errors.Is(err, outbound.ErrScopedNotFound) {
				return fmt.Errorf("no entry %q for role %s", args[0], r)
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			_, err = cmd.OutOrStdout().Write(value)
			return err
		})
	},
}

var scopedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entry names for the role",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScope(cmd, func(ctx context.Context, a *app, subject string, r role.AccountRole) error {
			keys, err := a.cache.ListScoped(ctx, subject, r)
			if err != nil {
				return fmt.Errorf("list entries: %w", err)
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k.Name)
			}
			return nil
		})
	},
}

func init() {
	scopedCmd.PersistentFlags().StringVar(&scopedRole, "role", "", "granted role to use instead of the active role")
	scopedCmd.AddCommand(scopedPutCmd, scopedGetCmd, scopedListCmd)
	rootCmd.AddCommand(scopedCmd)
}

// withScope resolves the subject and role the scoped commands act on. The
// role must be granted to the signed-in subject.
func withScope(cmd *cobra.Command, fn func(ctx context.Context, a *app, subject string, r role.AccountRole) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		snap := a.account.Snapshot()
		if !snap.Authenticated() || snap.Selection == nil {
			return errors.New("not signed in")
		}
		r := snap.Selection.ActiveRole
		if scopedRole != "" {
			parsed, err := role.Parse(strings.ToLower(scopedRole))
			if err != nil {
				return err
			}
			if !snap.Selection.GrantedRoles.Contains(parsed) {
				return fmt.Errorf("role %q is not granted to this account", parsed)
			}
			r = parsed
		}
		if r == "" {
			return errors.New("no active role; run accountgate switch <role> or pass --role")
		}
		return fn(ctx, a, snap.Session.SubjectID, r)
	})
}
