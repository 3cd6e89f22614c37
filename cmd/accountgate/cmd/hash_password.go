package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Generate an argon2id hash for a local user",
	Long: `Generate an argon2id hash for identity.local.users[].password_hash.

Example:
  accountgate hash-password "correct horse battery staple"
  # Output: $argon2id$v=19$m=65536,t=1,p=...

Security note: The password will appear in shell history.
Consider using an environment variable:
  accountgate hash-password "$PASSWORD"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
