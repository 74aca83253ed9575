package main

import (
	"github.com/spf13/cobra"

	"github.com/pedalworks/bikedeploy/internal/shell/local"
	"github.com/pedalworks/bikedeploy/internal/shell/publish"
	"github.com/pedalworks/bikedeploy/internal/shell/verify"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Build the image locally, boot it once and check its health endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		docker, err := newDockerClient()
		if err != nil {
			return err
		}
		defer docker.Close()

		runner := local.NewRunner(
			docker,
			publish.NewPublisher(docker, logger),
			verify.NewVerifier(0, logger),
			logger,
		)
		return runner.Run(ctx, local.Config{
			ContextDir: cfg.Service.ContextDir,
			Dockerfile: cfg.Service.Dockerfile,
			HealthPath: cfg.Verify.HealthPath,
		}, configuredTarget("127.0.0.1"))
	},
}

func init() {
	rootCmd.AddCommand(smokeCmd)
}
