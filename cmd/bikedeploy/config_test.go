package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "bike-inventory", cfg.Stack.Namespace)
	assert.Equal(t, "t3.small", cfg.Stack.InstanceType)
	assert.Equal(t, int32(14), cfg.Stack.LogRetentionDays)
	assert.Equal(t, "bike-inventory-api", cfg.Service.Name)
	assert.Equal(t, []string{"npm", "test"}, cfg.Service.TestCommand)
	assert.Equal(t, "ubuntu", cfg.Target.SSHUser)
	assert.Equal(t, 22, cfg.Target.SSHPort)
	assert.Equal(t, "./data/bikedeploy.db", cfg.Store.DSN)
	assert.Equal(t, "/health", cfg.Verify.HealthPath)
	assert.Equal(t, 120*time.Second, cfg.Verify.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Verify.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// No secrets baked into defaults.
	assert.Empty(t, cfg.AWS.SecretAccessKey)
	assert.Empty(t, cfg.Stack.DBPassword)
}

func TestLoadConfig_DefaultPortBinding(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Len(t, cfg.Target.Ports, 1)
	assert.Equal(t, 80, cfg.Target.Ports[0].Host)
	assert.Equal(t, 3000, cfg.Target.Ports[0].Container)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
aws:
  region: "us-east-2"

stack:
  namespace: "bike-inventory-staging"
  instance_type: "t3.medium"

service:
  name: "bike-inventory-api"
  context_dir: "./api"
  test_command: ["npm", "run", "test:ci"]

target:
  ssh_user: "deploy"
  ports:
    - host: 8080
      container: 3000
  volumes:
    - source: "/srv/bike-inventory/uploads"
      target: "/app/uploads"
  env_passthrough: ["DB_PASSWORD", "JWT_SECRET"]

verify:
  timeout: 90s
  interval: 3s

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "us-east-2", cfg.AWS.Region)
	assert.Equal(t, "bike-inventory-staging", cfg.Stack.Namespace)
	assert.Equal(t, "t3.medium", cfg.Stack.InstanceType)
	assert.Equal(t, "./api", cfg.Service.ContextDir)
	assert.Equal(t, []string{"npm", "run", "test:ci"}, cfg.Service.TestCommand)
	assert.Equal(t, "deploy", cfg.Target.SSHUser)
	require.Len(t, cfg.Target.Ports, 1)
	assert.Equal(t, 8080, cfg.Target.Ports[0].Host)
	require.Len(t, cfg.Target.Volumes, 1)
	assert.Equal(t, "/app/uploads", cfg.Target.Volumes[0].Target)
	assert.Equal(t, []string{"DB_PASSWORD", "JWT_SECRET"}, cfg.Target.EnvPassthrough)
	assert.Equal(t, 90*time.Second, cfg.Verify.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Verify.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("BIKEDEPLOY_AWS_REGION", "ap-southeast-1")
	t.Setenv("BIKEDEPLOY_STACK_DB_PASSWORD", "s3cret")
	t.Setenv("BIKEDEPLOY_STORE_DSN", "/custom/path.db")
	t.Setenv("BIKEDEPLOY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ap-southeast-1", cfg.AWS.Region)
	assert.Equal(t, "s3cret", cfg.Stack.DBPassword)
	assert.Equal(t, "/custom/path.db", cfg.Store.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{Log: LogConfig{Level: "info", Format: format}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "invalid", Format: "json"}}

	// Should fall back to info level, not panic
	assert.NotNil(t, SetupLogger(cfg))
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"BIKEDEPLOY_AWS_REGION",
		"BIKEDEPLOY_STACK_NAMESPACE",
		"BIKEDEPLOY_STACK_DB_PASSWORD",
		"BIKEDEPLOY_STORE_DSN",
		"BIKEDEPLOY_LOG_LEVEL",
		"BIKEDEPLOY_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
