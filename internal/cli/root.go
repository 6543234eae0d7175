package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg    *Config
	client *Client
)

// flagKeys maps persistent flags to their config keys
var flagKeys = map[string]string{
	"server":  "server",
	"api-key": "api_key",
	"output":  "output",
	"verbose": "verbose",
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "provisioner",
		Short: "CLI tool for the batch account provisioner",
		Long: `provisioner drives batch account provisioning and OAuth token acquisition.

Server commands (provision, tasks, accounts, events) talk to a running provisioner
API. Local commands (identities generate, tokens acquire) run without a server.

Settings come from flags, PROVISIONER_* environment variables and an optional
.provisioner.yaml in the working directory or $HOME/.config/provisioner.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := NewViper(cfgFile)
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			loaded, err := LoadConfig(v)
			if err != nil {
				return err
			}
			cfg = loaded

			// Create HTTP client
			client = NewClient(cfg.ServerURL, cfg.APIKey)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default .provisioner.yaml)")
	rootCmd.PersistentFlags().String("server", "", "Server URL (env: PROVISIONER_SERVER)")
	rootCmd.PersistentFlags().String("api-key", "", "API key (env: PROVISIONER_API_KEY)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format: text, json")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newTokensCmd())
	rootCmd.AddCommand(newIdentitiesCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// bindFlags binds the persistent flags that were set to their viper keys
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
