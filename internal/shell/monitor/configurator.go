// Package monitor declares log retention, the alert topic, threshold
// alarms and the host dashboard. It has no temporal coupling to the deploy
// pipeline and may run before, after, or never.
package monitor

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

//go:embed alarms.yaml
var alarmCatalogue []byte

// =============================================================================
// Config
// =============================================================================

// Config names the monitoring resources for one deployment namespace.
type Config struct {
	Namespace        string // e.g. "bike-inventory"
	Region           string
	LogRetentionDays int32 // Default: 14
}

func (c Config) logGroupName() string  { return "/" + c.Namespace + "/app" }
func (c Config) topicName() string     { return c.Namespace + "-alerts" }
func (c Config) dashboardName() string { return c.Namespace + "-overview" }

// =============================================================================
// Configurator
// =============================================================================

// Configurator applies the declarative monitoring set through the
// provisioner's upsert semantics.
type Configurator struct {
	prov   *provision.Provisioner
	config Config
	logger *slog.Logger
}

// NewConfigurator creates a monitoring configurator.
func NewConfigurator(prov *provision.Provisioner, config Config, logger *slog.Logger) *Configurator {
	if config.LogRetentionDays == 0 {
		config.LogRetentionDays = 14
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Configurator{
		prov:   prov,
		config: config,
		logger: logger.With("component", "monitor"),
	}
}

// EnsureMonitoring creates the log sink, the alert topic, the threshold
// alarms bound to the host identity and the overview dashboard. Safe to
// re-run: alarms and the dashboard are upserts, the rest is probe-then-
// create.
func (c *Configurator) EnsureMonitoring(ctx context.Context, hostIdentity string) error {
	cfg := c.config

	logGroup, err := c.prov.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindLogGroup, Name: cfg.logGroupName(), Region: cfg.Region,
	}, provision.ResourceSpec{LogGroup: &provision.LogGroupSpec{RetentionDays: cfg.LogRetentionDays}})
	if err != nil {
		return err
	}

	topic, err := c.prov.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindTopic, Name: cfg.topicName(), Region: cfg.Region,
	}, provision.ResourceSpec{})
	if err != nil {
		return err
	}

	rules, err := loadAlarmRules()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		rule.Dimensions = map[string]string{"InstanceId": hostIdentity}
		rule.TopicARN = topic.ProviderID

		_, err := c.prov.Ensure(ctx, domain.ResourceDescriptor{
			Kind: domain.KindAlarm, Name: cfg.Namespace + "-" + rule.Name, Region: cfg.Region,
		}, provision.ResourceSpec{Upsert: true, Alarm: &rule})
		if err != nil {
			return err
		}
	}

	body, err := dashboardBody(cfg, hostIdentity, logGroup.Name, rules)
	if err != nil {
		return err
	}
	_, err = c.prov.Ensure(ctx, domain.ResourceDescriptor{
		Kind: domain.KindDashboard, Name: cfg.dashboardName(), Region: cfg.Region,
	}, provision.ResourceSpec{Upsert: true, Dashboard: &provision.DashboardSpec{Body: body}})
	if err != nil {
		return err
	}

	c.logger.Info("monitoring configured",
		"host", hostIdentity,
		"alarms", len(rules),
		"log_group", logGroup.Name,
	)
	return nil
}

// =============================================================================
// Alarm Catalogue
// =============================================================================

type catalogue struct {
	Alarms []domain.AlarmRule `yaml:"alarms"`
}

// loadAlarmRules parses the embedded alarm set.
func loadAlarmRules() ([]domain.AlarmRule, error) {
	var cat catalogue
	if err := yaml.Unmarshal(alarmCatalogue, &cat); err != nil {
		return nil, fmt.Errorf("parse alarm catalogue: %w", err)
	}
	return cat.Alarms, nil
}

// =============================================================================
// Dashboard
// =============================================================================

// dashboardBody renders the provider dashboard document: one metric widget
// per alarm series plus a tail of recent log lines.
func dashboardBody(cfg Config, hostIdentity, logGroupName string, rules []domain.AlarmRule) (string, error) {
	type properties map[string]any
	type widget struct {
		Type       string     `json:"type"`
		X          int        `json:"x"`
		Y          int        `json:"y"`
		Width      int        `json:"width"`
		Height     int        `json:"height"`
		Properties properties `json:"properties"`
	}

	var widgets []widget
	for i, rule := range rules {
		widgets = append(widgets, widget{
			Type: "metric", X: (i % 2) * 12, Y: (i / 2) * 6, Width: 12, Height: 6,
			Properties: properties{
				"metrics": []any{
					[]any{rule.Namespace, rule.MetricName, "InstanceId", hostIdentity},
				},
				"period": rule.PeriodSeconds,
				"stat":   string(rule.Statistic),
				"region": cfg.Region,
				"title":  rule.Name,
			},
		})
	}

	widgets = append(widgets, widget{
		Type: "log", X: 0, Y: ((len(rules) + 1) / 2) * 6, Width: 24, Height: 6,
		Properties: properties{
			"query":  fmt.Sprintf("SOURCE '%s' | fields @timestamp, @message | sort @timestamp desc | limit 100", logGroupName),
			"region": cfg.Region,
			"title":  "Recent logs",
		},
	})

	body, err := json.Marshal(map[string]any{"widgets": widgets})
	if err != nil {
		return "", fmt.Errorf("marshal dashboard body: %w", err)
	}
	return string(body), nil
}
