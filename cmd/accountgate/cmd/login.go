package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swiftdrop/accountgate/internal/domain/session"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and persist the session",
	Long: `Sign in with the identity provider and persist the session to the local
cache so later commands and the server pick it up.

The password is taken from --password, then ACCOUNTGATE_PASSWORD, then the
first line of standard input.

Examples:
  accountgate login --email rider@example.com
  echo "$PASSWORD" | accountgate login --email rider@example.com`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (required)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (prefer ACCOUNTGATE_PASSWORD or stdin)")
	_ = loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cacheNote(cmd, a.cfg)
		snap, err := a.account.SignIn(ctx, session.Credentials{Email: loginEmail, Password: password})
		if err != nil {
			if errors.Is(err, session.ErrInvalidCredentials) {
				return errors.New("sign-in failed: invalid email or password")
			}
			return fmt.Errorf("sign-in failed: %w", err)
		}
		printSnapshot(cmd.OutOrStdout(), snap)
		return nil
	})
}

func readPassword(cmd *cobra.Command) (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	if p := os.Getenv("ACCOUNTGATE_PASSWORD"); p != "" {
		return p, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("password is required")
	}
	return line, nil
}
