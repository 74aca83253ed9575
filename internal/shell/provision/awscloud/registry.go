package awscloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Container Registry
// =============================================================================

func (c *Cloud) probeRegistry(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{desc.Name},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(out.Repositories) == 0 {
		return nil, domain.ErrResourceNotFound
	}
	repo := out.Repositories[0]
	desc.ProviderID = aws.ToString(repo.RepositoryArn)
	desc.Address = aws.ToString(repo.RepositoryUri)
	return &desc, nil
}

func (c *Cloud) createRegistry(ctx context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	out, err := c.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(desc.Name),
		// Tags are revision hashes and must never be repointed.
		ImageTagMutability: ecrtypes.ImageTagMutabilityImmutable,
		EncryptionConfiguration: &ecrtypes.EncryptionConfiguration{
			EncryptionType: ecrtypes.EncryptionTypeAes256,
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	desc.ProviderID = aws.ToString(out.Repository.RepositoryArn)
	desc.Address = aws.ToString(out.Repository.RepositoryUri)
	desc.CreatedAt = time.Now()
	return &desc, nil
}

// =============================================================================
// Registry Auth
// =============================================================================

// RegistryCredentials returns the registry host plus a short-lived
// username/password for docker login and push.
func (c *Cloud) RegistryCredentials(ctx context.Context) (host, username, password string, err error) {
	out, err := c.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", "", classify(err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", "", fmt.Errorf("%w: no authorization data returned", domain.ErrTransientInfra)
	}
	auth := out.AuthorizationData[0]

	raw, err := base64.StdEncoding.DecodeString(aws.ToString(auth.AuthorizationToken))
	if err != nil {
		return "", "", "", fmt.Errorf("decode authorization token: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", "", fmt.Errorf("malformed authorization token")
	}

	host = strings.TrimPrefix(aws.ToString(auth.ProxyEndpoint), "https://")
	return host, parts[0], parts[1], nil
}
