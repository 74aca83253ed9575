package awscloud

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

// =============================================================================
// Log Group
// =============================================================================

func (c *Cloud) probeLogGroup(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(desc.Name),
	})
	if err != nil {
		return nil, classify(err)
	}
	for _, lg := range out.LogGroups {
		if aws.ToString(lg.LogGroupName) == desc.Name {
			desc.ProviderID = aws.ToString(lg.Arn)
			return &desc, nil
		}
	}
	return nil, domain.ErrResourceNotFound
}

func (c *Cloud) createLogGroup(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.LogGroupSpec) (*domain.ResourceDescriptor, error) {
	_, err := c.logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(desc.Name),
	})
	if err != nil {
		return nil, classify(err)
	}
	_, err = c.logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(desc.Name),
		RetentionInDays: aws.Int32(spec.RetentionDays),
	})
	if err != nil {
		return nil, classify(err)
	}
	desc.CreatedAt = time.Now()
	return &desc, nil
}

// =============================================================================
// Alert Topic
// =============================================================================

func (c *Cloud) probeTopic(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	var next *string
	for {
		out, err := c.sns.ListTopics(ctx, &sns.ListTopicsInput{NextToken: next})
		if err != nil {
			return nil, classify(err)
		}
		for _, t := range out.Topics {
			arn := aws.ToString(t.TopicArn)
			if strings.HasSuffix(arn, ":"+desc.Name) {
				desc.ProviderID = arn
				return &desc, nil
			}
		}
		if out.NextToken == nil {
			return nil, domain.ErrResourceNotFound
		}
		next = out.NextToken
	}
}

func (c *Cloud) createTopic(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	// CreateTopic is a natural upsert: an existing name returns its ARN.
	out, err := c.sns.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(desc.Name),
	})
	if err != nil {
		return nil, classify(err)
	}
	desc.ProviderID = aws.ToString(out.TopicArn)
	desc.CreatedAt = time.Now()
	return &desc, nil
}

// =============================================================================
// Alarms
// =============================================================================

func (c *Cloud) probeAlarm(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{desc.Name},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.MetricAlarms) == 0 {
		return nil, domain.ErrResourceNotFound
	}
	desc.ProviderID = aws.ToString(out.MetricAlarms[0].AlarmArn)
	return &desc, nil
}

// putAlarm upserts the alarm: PutMetricAlarm overwrites an existing alarm
// of the same name, so the later parameters are in effect.
func (c *Cloud) putAlarm(ctx context.Context, desc domain.ResourceDescriptor, rule *domain.AlarmRule) (*domain.ResourceDescriptor, error) {
	dims := make([]cwtypes.Dimension, 0, len(rule.Dimensions))
	for k, v := range rule.Dimensions {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(v)})
	}

	input := &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(desc.Name),
		AlarmDescription:   aws.String(rule.Description),
		MetricName:         aws.String(rule.MetricName),
		Namespace:          aws.String(rule.Namespace),
		Statistic:          cwtypes.Statistic(rule.Statistic),
		Period:             aws.Int32(rule.PeriodSeconds),
		Threshold:          aws.Float64(rule.Threshold),
		ComparisonOperator: cwtypes.ComparisonOperator(rule.Comparison),
		EvaluationPeriods:  aws.Int32(rule.EvaluationPeriods),
		Dimensions:         dims,
		ActionsEnabled:     aws.Bool(true),
	}
	if rule.TopicARN != "" {
		input.AlarmActions = []string{rule.TopicARN}
	}

	if _, err := c.cw.PutMetricAlarm(ctx, input); err != nil {
		return nil, classify(err)
	}
	desc.CreatedAt = time.Now()
	return &desc, nil
}

// =============================================================================
// Dashboard
// =============================================================================

func (c *Cloud) probeDashboard(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.cw.GetDashboard(ctx, &cloudwatch.GetDashboardInput{
		DashboardName: aws.String(desc.Name),
	})
	if err != nil {
		return nil, classify(err)
	}
	desc.ProviderID = aws.ToString(out.DashboardArn)
	return &desc, nil
}

func (c *Cloud) putDashboard(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.DashboardSpec) (*domain.ResourceDescriptor, error) {
	if _, err := c.cw.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(desc.Name),
		DashboardBody: aws.String(spec.Body),
	}); err != nil {
		return nil, classify(err)
	}
	desc.CreatedAt = time.Now()
	return &desc, nil
}
