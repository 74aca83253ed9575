// Package awscloud implements provision.CloudAPI against AWS.
package awscloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	smithy "github.com/aws/smithy-go"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

// =============================================================================
// Cloud
// =============================================================================

// Cloud holds region-scoped AWS service clients and dispatches probe and
// create calls per resource kind.
type Cloud struct {
	region string
	ec2    *ec2.Client
	ecr    *ecr.Client
	iam    *iam.Client
	rds    *rds.Client
	logs   *cloudwatchlogs.Client
	sns    *sns.Client
	cw     *cloudwatch.Client
	logger *slog.Logger
}

// New creates a Cloud for one region. Credentials come from the SDK's
// default environment chain; explicit static keys override it when set.
func New(ctx context.Context, region, accessKeyID, secretAccessKey string, logger *slog.Logger) (*Cloud, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &Cloud{
		region: region,
		ec2:    ec2.NewFromConfig(cfg),
		ecr:    ecr.NewFromConfig(cfg),
		iam:    iam.NewFromConfig(cfg),
		rds:    rds.NewFromConfig(cfg),
		logs:   cloudwatchlogs.NewFromConfig(cfg),
		sns:    sns.NewFromConfig(cfg),
		cw:     cloudwatch.NewFromConfig(cfg),
		logger: logger.With("provider", "aws", "region", region),
	}, nil
}

// =============================================================================
// Dispatch
// =============================================================================

// Probe looks up an existing resource by its identity tuple.
func (c *Cloud) Probe(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	switch desc.Kind {
	case domain.KindRegistry:
		return c.probeRegistry(ctx, desc)
	case domain.KindKeyPair:
		return c.probeKeyPair(ctx, desc)
	case domain.KindSecurityGroup:
		return c.probeSecurityGroup(ctx, desc)
	case domain.KindRole:
		return c.probeRole(ctx, desc)
	case domain.KindInstance:
		return c.probeInstance(ctx, desc)
	case domain.KindDatabase:
		return c.probeDatabase(ctx, desc)
	case domain.KindLogGroup:
		return c.probeLogGroup(ctx, desc)
	case domain.KindTopic:
		return c.probeTopic(ctx, desc)
	case domain.KindAlarm:
		return c.probeAlarm(ctx, desc)
	case domain.KindDashboard:
		return c.probeDashboard(ctx, desc)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceKind, desc.Kind)
	}
}

// Create provisions the resource with its fixed configuration.
func (c *Cloud) Create(ctx context.Context, desc domain.ResourceDescriptor, spec provision.ResourceSpec) (*domain.ResourceDescriptor, error) {
	switch desc.Kind {
	case domain.KindRegistry:
		return c.createRegistry(ctx, desc)
	case domain.KindKeyPair:
		return c.createKeyPair(ctx, desc, spec.KeyPair)
	case domain.KindSecurityGroup:
		return c.createSecurityGroup(ctx, desc, spec.SecurityGroup)
	case domain.KindRole:
		return c.createRole(ctx, desc, spec.Role)
	case domain.KindInstance:
		return c.createInstance(ctx, desc, spec.Instance)
	case domain.KindDatabase:
		return c.createDatabase(ctx, desc, spec.Database)
	case domain.KindLogGroup:
		return c.createLogGroup(ctx, desc, spec.LogGroup)
	case domain.KindTopic:
		return c.createTopic(ctx, desc)
	case domain.KindAlarm:
		return c.putAlarm(ctx, desc, spec.Alarm)
	case domain.KindDashboard:
		return c.putDashboard(ctx, desc, spec.Dashboard)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidResourceKind, desc.Kind)
	}
}

// =============================================================================
// Error Classification
// =============================================================================

// Duplicate-create codes per service; everything else an API returns is a
// fatal infrastructure failure for this run.
var alreadyExistsCodes = map[string]bool{
	"InvalidKeyPair.Duplicate":         true,
	"InvalidGroup.Duplicate":           true,
	"InvalidPermission.Duplicate":      true,
	"RepositoryAlreadyExistsException": true,
	"EntityAlreadyExists":              true,
	"DBInstanceAlreadyExists":          true,
	"ResourceAlreadyExistsException":   true,
}

var notFoundCodes = map[string]bool{
	"InvalidKeyPair.NotFound":     true,
	"InvalidGroup.NotFound":       true,
	"InvalidInstanceID.NotFound":  true,
	"RepositoryNotFoundException": true,
	"NoSuchEntity":                true,
	"DBInstanceNotFound":          true,
	"DBInstanceNotFoundFault":     true,
	"ResourceNotFoundException":   true,
	"ResourceNotFound":            true,
	"DashboardNotFoundError":      true,
}

// classify maps an AWS API error onto the pipeline's failure taxonomy.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if alreadyExistsCodes[code] {
			return fmt.Errorf("%s: %w", code, domain.ErrAlreadyExists)
		}
		if notFoundCodes[code] {
			return fmt.Errorf("%s: %w", code, domain.ErrResourceNotFound)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientInfra, err)
}
