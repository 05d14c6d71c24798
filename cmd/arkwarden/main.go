package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	cmd := command{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(cmd, &StartFlags{}),
		createStopCommand(cmd),
		createConsoleCommand(cmd),
		createStatsCommand(cmd),
		createListCommand(cmd),
		createMaintenanceCommand(cmd, &MaintenanceFlags{}),
		createDiagnoseCommand(cmd, &DiagnoseFlags{}),
		createEventsCommand(cmd, &EventsFlags{}),
		createLoginCommand(cmd),
		createHashPasswordCommand(),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "arkwarden",
		Short: "ARK: Survival Ascended dedicated server manager",
		Long: `Arkwarden launches and supervises ARK: Survival Ascended dedicated servers,
streams their logs, talks to their remote console and keeps installs up to date.

Examples:
  arkwarden serve --config=arkwarden.toml     # Start daemon
  arkwarden start island --config=arkwarden.toml
  arkwarden console island "saveworld"
  arkwarden events --instance=island
  arkwarden diagnose --host=127.0.0.1 --port=27020 --password=secret`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default from config [server] or http://127.0.0.1:8420/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", defaultAPITimeout, "request timeout")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS verification (self-signed daemon certificates)")
	root.PersistentFlags().StringVar(&flags.Token, "token", os.Getenv("ARKWARDEN_TOKEN"), "bearer token for the API (env ARKWARDEN_TOKEN)")
	root.PersistentFlags().StringVar(&flags.User, "user", "", "API username for basic authentication")
	root.PersistentFlags().StringVar(&flags.Password, "password", os.Getenv("ARKWARDEN_PASSWORD"), "API password (env ARKWARDEN_PASSWORD)")
	return root
}
