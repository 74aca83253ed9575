package main

import (
	"github.com/spf13/cobra"

	"github.com/pedalworks/bikedeploy/internal/shell/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Poll the deployed service until it reports healthy",
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

		v := verify.NewVerifier(0, logger)
		endpoint := target.HealthEndpoint(cfg.Verify.HealthPath)
		report, err := v.WaitHealthy(ctx, endpoint, cfg.Verify.Timeout, cfg.Verify.Interval)
		if err != nil {
			return err
		}

		logger.Info("service healthy", "service", report.Service, "endpoint", endpoint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
