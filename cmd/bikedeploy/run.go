package main

import (
	"github.com/spf13/cobra"

	"github.com/pedalworks/bikedeploy/internal/pipeline"
	"github.com/pedalworks/bikedeploy/internal/shell/publish"
	"github.com/pedalworks/bikedeploy/internal/shell/remote"
	"github.com/pedalworks/bikedeploy/internal/shell/verify"
)

var runRevision string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: test, publish, deploy, verify",
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

		docker, err := newDockerClient()
		if err != nil {
			return err
		}
		defer docker.Close()

		exec, err := sshExecutor(target)
		if err != nil {
			return err
		}
		defer exec.Close()

		p := pipeline.New(pipeline.Config{
			ContextDir:    cfg.Service.ContextDir,
			Dockerfile:    cfg.Service.Dockerfile,
			Registry:      registry,
			TargetName:    cfg.Service.Name,
			Env:           passthroughEnv(),
			HealthPath:    cfg.Verify.HealthPath,
			HealthTimeout: cfg.Verify.Timeout,
			PollInterval:  cfg.Verify.Interval,
		},
			pipeline.CommandTester{Dir: cfg.Service.ContextDir, Command: cfg.Service.TestCommand},
			publish.NewPublisher(docker, logger),
			remote.NewDeployer(exec, st, logger),
			verify.NewVerifier(0, logger),
			cloud,
			st,
			logger,
		)

		run, err := p.Run(ctx, runRevision)
		if err != nil {
			return err
		}

		logger.Info("pipeline complete", "run", run.ID, "status", run.Status)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runRevision, "revision", "", "source revision to ship")
	runCmd.MarkFlagRequired("revision")
	rootCmd.AddCommand(runCmd)
}
