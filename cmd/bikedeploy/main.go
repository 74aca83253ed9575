// bikedeploy provisions the cloud footprint for the bike inventory
// service and ships new revisions onto it: build, publish, deploy,
// verify, with monitoring kept in step.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var (
	configPath string
	cfg        *Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "bikedeploy",
	Short:         "Provision and deploy the bike inventory service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bikedeploy: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		var err error
		cfg, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		logger = SetupLogger(cfg)
		return nil
	}
}
