package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/monitor"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// provisionCmd is the parent; run bare it prints the group menu.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision cloud resources for the service",
	Long: `Provision the cloud footprint in idempotent groups. Each group can be
re-run at any time; resources that already exist are reused, missing
ones are created.`,
}

var provisionNetworkCmd = &cobra.Command{
	Use:   "network",
	Short: "Provision registry, SSH key, network perimeter and compute host",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := provisionNetwork(cmd.Context())
		return err
	},
}

var provisionDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Provision the managed database behind the compute perimeter",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return provisionDatabase(cmd.Context())
	},
}

var provisionMonitoringCmd = &cobra.Command{
	Use:   "monitoring",
	Short: "Provision log group, alert topic, alarms and dashboard",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return provisionMonitoring(cmd.Context())
	},
}

var provisionAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Provision every group in dependency order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if _, err := provisionNetwork(ctx); err != nil {
			return err
		}
		if err := provisionDatabase(ctx); err != nil {
			return err
		}
		return provisionMonitoring(ctx)
	},
}

func init() {
	provisionCmd.AddCommand(provisionNetworkCmd, provisionDatabaseCmd, provisionMonitoringCmd, provisionAllCmd)
	rootCmd.AddCommand(provisionCmd)
}

// =============================================================================
// Provisioning Flows
// =============================================================================

func provisionNetwork(ctx context.Context) (*provision.NetworkComputeResult, error) {
	cloud, err := newCloud(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := stackConfig()
	if err != nil {
		return nil, err
	}

	prov := provision.NewProvisioner(cloud, logger)
	res, err := prov.EnsureNetworkCompute(ctx, sc)
	if err != nil {
		return nil, err
	}

	// Record the host so deploy and verify can find it later.
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	target := configuredTarget(res.Instance.Address)
	target.Env = nil
	if err := st.SaveTarget(ctx, &target); err != nil {
		return nil, err
	}

	logger.Info("compute stack ready",
		"host", res.Instance.Address,
		"instance", res.Instance.ProviderID,
		"registry", res.Registry.Address,
	)
	return res, nil
}

func provisionDatabase(ctx context.Context) error {
	cloud, err := newCloud(ctx)
	if err != nil {
		return err
	}
	sc, err := stackConfig()
	if err != nil {
		return err
	}
	if sc.DBPassword == "" {
		return fmt.Errorf("database password not set (BIKEDEPLOY_STACK_DB_PASSWORD)")
	}

	prov := provision.NewProvisioner(cloud, logger)
	res, err := prov.EnsureDatabase(ctx, sc)
	if err != nil {
		return err
	}

	logger.Info("database stack ready", "endpoint", res.Database.Address)
	return nil
}

func provisionMonitoring(ctx context.Context) error {
	cloud, err := newCloud(ctx)
	if err != nil {
		return err
	}
	sc, err := stackConfig()
	if err != nil {
		return err
	}

	// Alarms bind to the live instance identity.
	instance, err := cloud.Probe(ctx, domain.ResourceDescriptor{
		Kind: domain.KindInstance, Name: sc.InstanceName(), Region: sc.Region,
	})
	if err != nil {
		return fmt.Errorf("compute host must exist before monitoring: %w", err)
	}

	conf := monitor.NewConfigurator(provision.NewProvisioner(cloud, logger), monitor.Config{
		Namespace:        cfg.Stack.Namespace,
		Region:           cfg.AWS.Region,
		LogRetentionDays: cfg.Stack.LogRetentionDays,
	}, logger)
	if err := conf.EnsureMonitoring(ctx, instance.ProviderID); err != nil {
		return err
	}

	logger.Info("monitoring stack ready", "instance", instance.ProviderID)
	return nil
}
