package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	AWS     AWSConfig     `mapstructure:"aws"`
	Stack   StackConfig   `mapstructure:"stack"`
	Service ServiceConfig `mapstructure:"service"`
	Target  TargetConfig  `mapstructure:"target"`
	Store   StoreConfig   `mapstructure:"store"`
	Verify  VerifyConfig  `mapstructure:"verify"`
	Log     LogConfig     `mapstructure:"log"`
}

// AWSConfig holds cloud credentials and the operating region.
// Credentials may be left empty to use the ambient credential chain.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// StackConfig holds the provisioned infrastructure parameters. All
// resource names are derived from the namespace.
type StackConfig struct {
	Namespace        string `mapstructure:"namespace"`
	SSHPublicKeyPath string `mapstructure:"ssh_public_key_path"`
	InstanceType     string `mapstructure:"instance_type"`

	DBInstanceClass string `mapstructure:"db_instance_class"`
	DBEngineVersion string `mapstructure:"db_engine_version"`
	DBAllocatedGB   int32  `mapstructure:"db_allocated_gb"`
	DBUsername      string `mapstructure:"db_username"`
	// DBPassword must come from the environment, never the config file.
	DBPassword string `mapstructure:"db_password"`
	DBName     string `mapstructure:"db_name"`

	LogRetentionDays int32 `mapstructure:"log_retention_days"`
}

// ServiceConfig describes the service being built and deployed.
type ServiceConfig struct {
	Name        string   `mapstructure:"name"`
	ContextDir  string   `mapstructure:"context_dir"`
	Dockerfile  string   `mapstructure:"dockerfile"`
	TestCommand []string `mapstructure:"test_command"`
}

// PortConfig is one host-to-container port binding.
type PortConfig struct {
	Host      int    `mapstructure:"host"`
	Container int    `mapstructure:"container"`
	Protocol  string `mapstructure:"protocol"`
}

// VolumeConfig is one persistent bind mount on the target host.
type VolumeConfig struct {
	Source   string `mapstructure:"source"`
	Target   string `mapstructure:"target"`
	ReadOnly bool   `mapstructure:"read_only"`
}

// TargetConfig holds the SSH identity and the container runtime shape
// of the deployment target. The host address itself is recorded by
// `provision network` and read back from the store.
type TargetConfig struct {
	SSHUser    string `mapstructure:"ssh_user"`
	SSHPort    int    `mapstructure:"ssh_port"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	Ports   []PortConfig   `mapstructure:"ports"`
	Volumes []VolumeConfig `mapstructure:"volumes"`

	// EnvPassthrough lists environment variable names whose values are
	// forwarded into the container at deploy time. Values stay out of
	// the config file, the store and the logs.
	EnvPassthrough []string `mapstructure:"env_passthrough"`
}

// StoreConfig holds the local record database configuration.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// VerifyConfig holds the health verification window.
type VerifyConfig struct {
	HealthPath string        `mapstructure:"health_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Interval   time.Duration `mapstructure:"interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("aws.region", "eu-west-1")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")

	v.SetDefault("stack.namespace", "bike-inventory")
	v.SetDefault("stack.ssh_public_key_path", "./keys/deploy.pub")
	v.SetDefault("stack.instance_type", "t3.small")
	v.SetDefault("stack.db_instance_class", "db.t3.micro")
	v.SetDefault("stack.db_engine_version", "16.3")
	v.SetDefault("stack.db_allocated_gb", 20)
	v.SetDefault("stack.db_username", "bikeinventory")
	v.SetDefault("stack.db_password", "") // BIKEDEPLOY_STACK_DB_PASSWORD
	v.SetDefault("stack.db_name", "bikeinventory")
	v.SetDefault("stack.log_retention_days", 14)

	v.SetDefault("service.name", "bike-inventory-api")
	v.SetDefault("service.context_dir", ".")
	v.SetDefault("service.dockerfile", "Dockerfile")
	v.SetDefault("service.test_command", []string{"npm", "test"})

	v.SetDefault("target.ssh_user", "ubuntu")
	v.SetDefault("target.ssh_port", 22)
	v.SetDefault("target.ssh_key_path", "./keys/deploy")
	v.SetDefault("target.env_passthrough", []string{})

	v.SetDefault("store.dsn", "./data/bikedeploy.db")

	v.SetDefault("verify.health_path", "/health")
	v.SetDefault("verify.timeout", "120s")
	v.SetDefault("verify.interval", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BIKEDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The service listens on 3000 behind host port 80 unless configured.
	if len(cfg.Target.Ports) == 0 {
		cfg.Target.Ports = []PortConfig{{Host: 80, Container: 3000}}
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
