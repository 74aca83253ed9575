package main

import (
	"github.com/spf13/cobra"

	"github.com/pedalworks/bikedeploy/internal/shell/publish"
)

var publishRevision string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Build the service image and push it tagged with the revision",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cloud, err := newCloud(ctx)
		if err != nil {
			return err
		}
		sc, err := stackConfig()
		if err != nil {
			return err
		}
		registry, err := registryURI(ctx, cloud, sc)
		if err != nil {
			return err
		}
		_, username, password, err := cloud.RegistryCredentials(ctx)
		if err != nil {
			return err
		}

		docker, err := newDockerClient()
		if err != nil {
			return err
		}
		defer docker.Close()

		pub := publish.NewPublisher(docker, logger)
		artifact, err := pub.Publish(ctx, publish.BuildInput{
			ContextDir: cfg.Service.ContextDir,
			Dockerfile: cfg.Service.Dockerfile,
			Revision:   publishRevision,
			Registry:   registry,
		}, publish.RegistryAuth{Username: username, Password: password})
		if err != nil {
			return err
		}

		logger.Info("published", "image", artifact.Image(), "digest", artifact.Digest)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishRevision, "revision", "", "source revision to tag the image with")
	publishCmd.MarkFlagRequired("revision")
	rootCmd.AddCommand(publishCmd)
}
