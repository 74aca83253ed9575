package main

import (
	"github.com/spf13/cobra"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/remote"
)

var deployTag string

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Replace the running container on the target host with the tagged image",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		target, err := loadTarget(ctx, st)
		if err != nil {
			return err
		}

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
		host, username, password, err := cloud.RegistryCredentials(ctx)
		if err != nil {
			return err
		}

		artifact, err := domain.NewArtifactReference(registry, deployTag)
		if err != nil {
			return err
		}

		exec, err := sshExecutor(target)
		if err != nil {
			return err
		}
		defer exec.Close()

		deployer := remote.NewDeployer(exec, st, logger)
		if err := deployer.Deploy(ctx, *target, *artifact, remote.RegistryLogin{
			Host: host, Username: username, Password: password,
		}); err != nil {
			return err
		}

		logger.Info("deployed", "image", artifact.Image(), "host", target.Host)
		return nil
	},
}

func init() {
	deployCmd.Flags().StringVar(&deployTag, "tag", "", "published image tag to deploy")
	deployCmd.MarkFlagRequired("tag")
	rootCmd.AddCommand(deployCmd)
}
