package main

import (
	"fmt"
	"os"

	"github.com/cuemby/karapace-operator/pkg/config"
	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "karapace-operator",
	Short: "Karapace operator - lifecycle manager for a Karapace schema registry replica",
	Long: `karapace-operator runs next to one Karapace schema registry replica.

It wires the registry to Kafka and to a certificate provider, publishes
credentials to client applications and converges the registry
configuration on every change, restarting the service one replica at a
time when the configuration moves.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"karapace-operator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional .env file loaded before environment overrides")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(getPasswordCmd)
	rootCmd.AddCommand(setPasswordCmd)
	rootCmd.AddCommand(setTLSPrivateKeyCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the operator version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("karapace-operator %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads the configuration named by the persistent flags and
// initializes logging from it. Flags win over file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}
