package awscloud

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

// =============================================================================
// Key Pair
// =============================================================================

func (c *Cloud) probeKeyPair(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{desc.Name},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.KeyPairs) == 0 {
		return nil, domain.ErrResourceNotFound
	}
	desc.ProviderID = aws.ToString(out.KeyPairs[0].KeyPairId)
	return &desc, nil
}

func (c *Cloud) createKeyPair(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.KeyPairSpec) (*domain.ResourceDescriptor, error) {
	out, err := c.ec2.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           aws.String(desc.Name),
		PublicKeyMaterial: []byte(spec.PublicKey),
	})
	if err != nil {
		return nil, classify(err)
	}
	desc.ProviderID = aws.ToString(out.KeyPairId)
	desc.CreatedAt = time.Now()
	return &desc, nil
}

// =============================================================================
// Security Group
// =============================================================================

func (c *Cloud) probeSecurityGroup(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{desc.Name}},
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, domain.ErrResourceNotFound
	}
	desc.ProviderID = aws.ToString(out.SecurityGroups[0].GroupId)
	return &desc, nil
}

func (c *Cloud) createSecurityGroup(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.SecurityGroupSpec) (*domain.ResourceDescriptor, error) {
	out, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(desc.Name),
		Description: aws.String(spec.Description),
	})
	if err != nil {
		return nil, classify(err)
	}

	perms := make([]ec2types.IpPermission, 0, len(spec.Ingress))
	for _, rule := range spec.Ingress {
		perm := ec2types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(rule.FromPort),
			ToPort:     aws.Int32(rule.ToPort),
		}
		if rule.SourceGroupID != "" {
			// Admit by group identity, not IP.
			perm.UserIdGroupPairs = []ec2types.UserIdGroupPair{
				{GroupId: aws.String(rule.SourceGroupID), Description: aws.String(rule.Description)},
			}
		} else {
			perm.IpRanges = []ec2types.IpRange{
				{CidrIp: aws.String(rule.CIDR), Description: aws.String(rule.Description)},
			}
		}
		perms = append(perms, perm)
	}

	_, err = c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       out.GroupId,
		IpPermissions: perms,
	})
	if err != nil && !errors.Is(classify(err), domain.ErrAlreadyExists) {
		return nil, classify(err)
	}

	desc.ProviderID = aws.ToString(out.GroupId)
	desc.CreatedAt = time.Now()
	return &desc, nil
}

// =============================================================================
// Instance
// =============================================================================

func (c *Cloud) probeInstance(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{desc.Name}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			desc.ProviderID = aws.ToString(inst.InstanceId)
			desc.Address = aws.ToString(inst.PublicIpAddress)
			return &desc, nil
		}
	}
	return nil, domain.ErrResourceNotFound
}

func (c *Cloud) createInstance(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.InstanceSpec) (*domain.ResourceDescriptor, error) {
	amiID, err := c.latestUbuntuAMI(ctx)
	if err != nil {
		return nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:          aws.String(amiID),
		InstanceType:     ec2types.InstanceType(spec.Type),
		KeyName:          aws.String(spec.KeyName),
		SecurityGroupIds: []string{spec.SecurityGroupID},
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(desc.Name)},
					{Key: aws.String("ManagedBy"), Value: aws.String("bikedeploy")},
				},
			},
		},
	}
	if spec.ProfileName != "" {
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{
			Name: aws.String(spec.ProfileName),
		}
	}

	out, err := c.ec2.RunInstances(ctx, input)
	if err != nil {
		return nil, classify(err)
	}
	if len(out.Instances) == 0 {
		return nil, errors.New("no instance returned from RunInstances")
	}

	instanceID := aws.ToString(out.Instances[0].InstanceId)
	c.logger.Info("instance launched", "instance_id", instanceID, "name", desc.Name)

	desc.ProviderID = instanceID
	desc.CreatedAt = time.Now()

	if spec.AwaitPublicIP {
		ip, err := c.waitForPublicIP(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		desc.Address = ip
	}
	return &desc, nil
}

// latestUbuntuAMI resolves the most recent Canonical Ubuntu 22.04 image in
// the region. Never a hard-coded AMI id: those rot per region.
func (c *Cloud) latestUbuntuAMI(ctx context.Context) (string, error) {
	out, err := c.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("name"), Values: []string{"ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
		Owners: []string{"099720109477"}, // Canonical
	})
	if err != nil {
		return "", classify(err)
	}
	if len(out.Images) == 0 {
		return "", errors.New("no Ubuntu AMI found")
	}
	ami := out.Images[0]
	for _, img := range out.Images[1:] {
		if aws.ToString(img.CreationDate) > aws.ToString(ami.CreationDate) {
			ami = img
		}
	}
	return aws.ToString(ami.ImageId), nil
}

func (c *Cloud) waitForPublicIP(ctx context.Context, instanceID string) (string, error) {
	for i := 0; i < 60; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}

		out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			continue
		}
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				if inst.PublicIpAddress != nil && *inst.PublicIpAddress != "" {
					return *inst.PublicIpAddress, nil
				}
			}
		}
	}
	return "", errors.New("timed out waiting for public IP")
}
