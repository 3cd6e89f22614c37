// Package cmd provides the CLI commands for accountgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swiftdrop/accountgate/internal/config"
)

var (
	cfgFile string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "accountgate",
	Short: "accountgate - session and account-role gate",
	Long: `accountgate keeps one client's authenticated session, its active account
role (personal, business or driver) and the navigation decisions derived
from them.

Quick start:
  1. Create a config file: accountgate init-config > accountgate.yaml
  2. Run: accountgate serve

  Or try it without a provider:
     accountgate --dev serve

Configuration:
  Config is loaded from accountgate.yaml in the current directory,
  $HOME/.accountgate/, or /etc/accountgate/.

  Environment variables can override config values with the ACCOUNTGATE_ prefix.
  Example: ACCOUNTGATE_SERVER_HTTP_ADDR=127.0.0.1:9090

Commands:
  serve          Run the local HTTP API
  login          Sign in and persist the session
  logout         Sign out and wipe local state
  status         Show the current session and role
  switch         Change the active account role
  decide         Evaluate a navigation request
  scoped         Read and write role-scoped cached data
  hash-password  Generate an argon2id hash for a local user
  init-config    Print a starter configuration
  stop           Stop the running server
  version        Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./accountgate.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (local identity provider, seeded grants, debug logging)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig reads and validates the configuration, applying --dev first.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
