package awscloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
	"github.com/pedalworks/bikedeploy/internal/shell/provision"
)

// =============================================================================
// Managed Database
// =============================================================================

func (c *Cloud) probeDatabase(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(desc.Name),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.DBInstances) == 0 {
		return nil, domain.ErrResourceNotFound
	}
	db := out.DBInstances[0]
	desc.ProviderID = aws.ToString(db.DBInstanceArn)
	if db.Endpoint != nil {
		desc.Address = fmt.Sprintf("%s:%d", aws.ToString(db.Endpoint.Address), aws.ToInt32(db.Endpoint.Port))
	}
	return &desc, nil
}

func (c *Cloud) createDatabase(ctx context.Context, desc domain.ResourceDescriptor, spec *provision.DatabaseSpec) (*domain.ResourceDescriptor, error) {
	out, err := c.rds.CreateDBInstance(ctx, &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: aws.String(desc.Name),
		Engine:               aws.String(spec.Engine),
		EngineVersion:        aws.String(spec.EngineVersion),
		DBInstanceClass:      aws.String(spec.InstanceClass),
		AllocatedStorage:     aws.Int32(spec.AllocatedGB),
		MasterUsername:       aws.String(spec.Username),
		MasterUserPassword:   aws.String(spec.Password),
		DBName:               aws.String(spec.DBName),
		VpcSecurityGroupIds:  []string{spec.SecurityGroupID},
		StorageEncrypted:     aws.Bool(true),
		PubliclyAccessible:   aws.Bool(false),
	})
	if err != nil {
		return nil, classify(err)
	}

	desc.ProviderID = aws.ToString(out.DBInstance.DBInstanceArn)
	desc.CreatedAt = time.Now()
	c.logger.Info("database instance creation started", "name", desc.Name)
	// The endpoint appears once the instance reaches "available"; callers
	// re-probe for it rather than blocking the provisioning run here.
	return &desc, nil
}
