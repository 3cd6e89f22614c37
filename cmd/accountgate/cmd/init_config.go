package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/swiftdrop/accountgate/internal/config"
)

var initConfigOutput string

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Print a starter configuration",
	Long: `Print a starter accountgate.yaml for a remote identity provider with
example navigation rules.

Examples:
  accountgate init-config > accountgate.yaml
  accountgate init-config --output ~/.accountgate/accountgate.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.Starter())
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if initConfigOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if _, err := os.Stat(initConfigOutput); err == nil {
			return fmt.Errorf("%s already exists", initConfigOutput)
		}
		if err := os.WriteFile(initConfigOutput, data, 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", initConfigOutput)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().StringVarP(&initConfigOutput, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(initConfigCmd)
}
