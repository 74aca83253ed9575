package awscloud

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

// =============================================================================
// Identity Role
// =============================================================================

const ec2TrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "%SERVICE%"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

func (c *Cloud) probeRole(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.iam.GetRole(ctx, &iam.GetRoleInput{
		RoleName: aws.String(desc.Name),
	})
	if err != nil {
		return nil, classify(err)
	}
	desc.ProviderID = aws.ToString(out.Role.Arn)
	return &desc, nil
}

func (c *Cloud) createRole(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.RoleSpec) (*domain.ResourceDescriptor, error) {
	trust := strings.ReplaceAll(ec2TrustPolicy, "%SERVICE%", spec.AssumeService)

	out, err := c.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(desc.Name),
		AssumeRolePolicyDocument: aws.String(trust),
		Description:              aws.String("bikedeploy managed role"),
	})
	if err != nil {
		return nil, classify(err)
	}

	for _, arn := range spec.PolicyARNs {
		_, err = c.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(desc.Name),
			PolicyArn: aws.String(arn),
		})
		if err != nil {
			return nil, classify(err)
		}
	}

	if spec.InstanceProfile {
		_, err = c.iam.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
			InstanceProfileName: aws.String(desc.Name),
		})
		if err != nil && !errors.Is(classify(err), domain.ErrAlreadyExists) {
			return nil, classify(err)
		}
		_, err = c.iam.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
			InstanceProfileName: aws.String(desc.Name),
			RoleName:            aws.String(desc.Name),
		})
		if err != nil && !errors.Is(classify(err), domain.ErrAlreadyExists) {
			return nil, classify(err)
		}
	}

	desc.ProviderID = aws.ToString(out.Role.Arn)
	desc.CreatedAt = time.Now()
	return &desc, nil
}
