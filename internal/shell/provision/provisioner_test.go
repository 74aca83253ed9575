package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalworks/bikedeploy/internal/core/domain"
)

// =============================================================================
// Fake Cloud API
// =============================================================================

// fakeCloudAPI records resources by identity tuple and counts create calls.
type fakeCloudAPI struct {
	resources   map[string]*domain.ResourceDescriptor
	specs       map[string]ResourceSpec
	createCalls map[string]int
	probeErr    error
	createErr   error
}

func newFakeCloudAPI() *fakeCloudAPI {
	return &fakeCloudAPI{
		resources:   make(map[string]*domain.ResourceDescriptor),
		specs:       make(map[string]ResourceSpec),
		createCalls: make(map[string]int),
	}
}

func (f *fakeCloudAPI) Probe(_ context.Context, desc domain.ResourceDescriptor) (*domain.ResourceDescriptor, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	if existing, ok := f.resources[desc.Identity()]; ok {
		cp := *existing
		return &cp, nil
	}
	return nil, domain.ErrResourceNotFound
}

func (f *fakeCloudAPI) Create(_ context.Context, desc domain.ResourceDescriptor, spec ResourceSpec) (*domain.ResourceDescriptor, error) {
	f.createCalls[desc.Identity()]++
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.resources[desc.Identity()]; ok && !spec.Upsert {
		return nil, domain.ErrAlreadyExists
	}
	desc.ProviderID = "id-" + desc.Name
	f.resources[desc.Identity()] = &desc
	f.specs[desc.Identity()] = spec
	return &desc, nil
}

// =============================================================================
// Ensure
// =============================================================================

func TestEnsure_CreatesWhenAbsent(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)

	desc := domain.ResourceDescriptor{Kind: domain.KindRegistry, Name: "bike-inventory-api", Region: "eu-west-1"}
	got, err := p.Ensure(context.Background(), desc, ResourceSpec{})

	require.NoError(t, err)
	assert.Equal(t, domain.ResourceStatusCreated, got.Status)
	assert.Equal(t, "id-bike-inventory-api", got.ProviderID)
	assert.Equal(t, 1, api.createCalls[desc.Identity()])
}

func TestEnsure_Idempotent(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)

	desc := domain.ResourceDescriptor{Kind: domain.KindSecurityGroup, Name: "bike-inventory-sg", Region: "eu-west-1"}

	first, err := p.Ensure(context.Background(), desc, ResourceSpec{SecurityGroup: &SecurityGroupSpec{}})
	require.NoError(t, err)

	second, err := p.Ensure(context.Background(), desc, ResourceSpec{SecurityGroup: &SecurityGroupSpec{}})
	require.NoError(t, err)

	// Same identity, at most one creation call.
	assert.Equal(t, first.ProviderID, second.ProviderID)
	assert.Equal(t, domain.ResourceStatusExisting, second.Status)
	assert.Equal(t, 1, api.createCalls[desc.Identity()])
}

func TestEnsure_AlreadyExistsFromCreateIsReuse(t *testing.T) {
	api := newFakeCloudAPI()
	// Seed the live resource but make the first probe miss it, as if the
	// resource appeared between probe and create.
	desc := domain.ResourceDescriptor{Kind: domain.KindKeyPair, Name: "bike-inventory-key", Region: "eu-west-1"}
	api.createErr = domain.ErrAlreadyExists

	p := NewProvisioner(api, nil)
	got, err := p.Ensure(context.Background(), desc, ResourceSpec{KeyPair: &KeyPairSpec{PublicKey: "ssh-ed25519 AAAA"}})

	require.NoError(t, err)
	assert.Equal(t, domain.ResourceStatusExisting, got.Status)
}

func TestEnsure_FatalCreateErrorAborts(t *testing.T) {
	api := newFakeCloudAPI()
	api.createErr = domain.ErrTransientInfra

	p := NewProvisioner(api, nil)
	desc := domain.ResourceDescriptor{Kind: domain.KindInstance, Name: "bike-inventory-host", Region: "eu-west-1"}
	_, err := p.Ensure(context.Background(), desc, ResourceSpec{Instance: &InstanceSpec{}})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientInfra)
	assert.Contains(t, err.Error(), desc.Identity())
}

func TestEnsure_FatalProbeErrorAborts(t *testing.T) {
	api := newFakeCloudAPI()
	api.probeErr = errors.New("throttled")

	p := NewProvisioner(api, nil)
	desc := domain.ResourceDescriptor{Kind: domain.KindTopic, Name: "bike-inventory-alerts", Region: "eu-west-1"}
	_, err := p.Ensure(context.Background(), desc, ResourceSpec{})

	require.Error(t, err)
	assert.Zero(t, api.createCalls[desc.Identity()])
}

func TestEnsure_InvalidDescriptor(t *testing.T) {
	p := NewProvisioner(newFakeCloudAPI(), nil)

	_, err := p.Ensure(context.Background(), domain.ResourceDescriptor{Kind: "bucket", Name: "x", Region: "r"}, ResourceSpec{})
	assert.ErrorIs(t, err, domain.ErrInvalidResourceKind)

	_, err = p.Ensure(context.Background(), domain.ResourceDescriptor{Kind: domain.KindTopic, Region: "r"}, ResourceSpec{})
	assert.ErrorIs(t, err, domain.ErrResourceNameRequired)
}

func TestEnsure_UpsertSkipsProbeAndOverwrites(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)

	desc := domain.ResourceDescriptor{Kind: domain.KindAlarm, Name: "bike-inventory-cpu-high", Region: "eu-west-1"}
	first := ResourceSpec{Upsert: true, Alarm: &domain.AlarmRule{MetricName: "CPUUtilization", Threshold: 70}}
	second := ResourceSpec{Upsert: true, Alarm: &domain.AlarmRule{MetricName: "CPUUtilization", Threshold: 85}}

	_, err := p.Ensure(context.Background(), desc, first)
	require.NoError(t, err)
	_, err = p.Ensure(context.Background(), desc, second)
	require.NoError(t, err)

	// One alarm, later parameters in effect.
	assert.Len(t, api.resources, 1)
	assert.Equal(t, 85.0, api.specs[desc.Identity()].Alarm.Threshold)
	assert.Equal(t, 2, api.createCalls[desc.Identity()])
}

// =============================================================================
// Stacks
// =============================================================================

func testStackConfig() StackConfig {
	return StackConfig{
		Namespace:       "bike-inventory",
		Region:          "eu-west-1",
		SSHPublicKey:    "ssh-ed25519 AAAA test",
		InstanceType:    "t3.small",
		DBInstanceClass: "db.t3.micro",
		DBEngineVersion: "16.3",
		DBAllocatedGB:   20,
		DBUsername:      "bikeinv",
		DBPassword:      "secret",
		DBName:          "bikeinventory",
	}
}

func TestEnsureNetworkCompute_Order(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)

	res, err := p.EnsureNetworkCompute(context.Background(), testStackConfig())
	require.NoError(t, err)

	require.NotNil(t, res.Registry)
	require.NotNil(t, res.Instance)

	// The instance must reference the perimeter and key created before it.
	instSpec := api.specs[res.Instance.Identity()].Instance
	require.NotNil(t, instSpec)
	assert.Equal(t, res.SecurityGroup.ProviderID, instSpec.SecurityGroupID)
	assert.Equal(t, res.KeyPair.Name, instSpec.KeyName)
	assert.Equal(t, res.Role.Name, instSpec.ProfileName)
	assert.NotEmpty(t, instSpec.UserData)
}

func TestEnsureNetworkCompute_Rerun(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)

	_, err := p.EnsureNetworkCompute(context.Background(), testStackConfig())
	require.NoError(t, err)
	_, err = p.EnsureNetworkCompute(context.Background(), testStackConfig())
	require.NoError(t, err)

	for id, n := range api.createCalls {
		assert.Equal(t, 1, n, "resource %s created more than once", id)
	}
}

func TestEnsureNetworkCompute_AbortsOnFailure(t *testing.T) {
	api := newFakeCloudAPI()
	api.createErr = domain.ErrTransientInfra
	p := NewProvisioner(api, nil)

	_, err := p.EnsureNetworkCompute(context.Background(), testStackConfig())
	require.Error(t, err)

	// First resource failed; nothing after it was attempted.
	assert.Len(t, api.createCalls, 1)
}

func TestEnsureDatabase_RequiresComputePerimeter(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)

	_, err := p.EnsureDatabase(context.Background(), testStackConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestEnsureDatabase_IngressReferencesComputeGroup(t *testing.T) {
	api := newFakeCloudAPI()
	p := NewProvisioner(api, nil)
	cfg := testStackConfig()

	compute, err := p.EnsureNetworkCompute(context.Background(), cfg)
	require.NoError(t, err)

	res, err := p.EnsureDatabase(context.Background(), cfg)
	require.NoError(t, err)

	sgSpec := api.specs[res.SecurityGroup.Identity()].SecurityGroup
	require.NotNil(t, sgSpec)
	require.Len(t, sgSpec.Ingress, 1)
	// Database perimeter admits the compute group identity, not an IP.
	assert.Equal(t, compute.SecurityGroup.ProviderID, sgSpec.Ingress[0].SourceGroupID)
	assert.Empty(t, sgSpec.Ingress[0].CIDR)

	dbSpec := api.specs[res.Database.Identity()].Database
	require.NotNil(t, dbSpec)
	assert.Equal(t, "postgres", dbSpec.Engine)
	assert.Equal(t, res.SecurityGroup.ProviderID, dbSpec.SecurityGroupID)
}
