package acme

import (
	"context"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/registration"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/repository/mocks"
	"github.com/elektrine/domainstack/internal/utils"
	"github.com/elektrine/domainstack/services/certcache"
	"github.com/elektrine/domainstack/services/domain"
	"github.com/elektrine/domainstack/services/secrets"
)

type okVerifier struct{}

func (okVerifier) VerifyOwnership(context.Context, string, string) interfaces.OwnershipResult {
	return interfaces.OwnershipResult{Status: enum.DNSCheckOK}
}

func (okVerifier) VerifyEmailDNS(context.Context, string, string, string) interfaces.EmailDNSResult {
	return interfaces.EmailDNSResult{}
}

func (okVerifier) CheckARecord(context.Context, string) interfaces.RecordCheck {
	return interfaces.RecordCheck{Status: enum.DNSCheckOK}
}

type noopJobs struct{}

func (noopJobs) Enqueue(context.Context, interfaces.DomainJob) error { return nil }
func (noopJobs) SetHandler(interfaces.JobHandler)                    {}
func (noopJobs) Start(context.Context) error                         { return nil }
func (noopJobs) Stop()                                               {}

type fixture struct {
	provisioner *certificateProvisioner
	registry    interfaces.DomainRegistry
	domains     *mocks.InMemoryCustomDomainRepository
	cache       interfaces.CertificateCache
	acmeCfg     *config.AcmeConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	domainRepo := mocks.NewInMemoryCustomDomainRepository()
	repos := &repository.Repositories{
		CustomDomainRepository:        domainRepo,
		CustomDomainAddressRepository: mocks.NewInMemoryCustomDomainAddressRepository(),
	}
	codec, err := secrets.NewSecretCodec("test-master-secret")
	require.NoError(t, err)
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	cache := certcache.NewCertificateCache(repos, codec, log)
	registry := domain.NewDomainRegistry(
		repos, okVerifier{}, cache, codec, noopJobs{},
		&config.AppConfig{PublicIP: "203.0.113.10"},
		&config.DomainConfig{MaxDomainsPerUser: 5, MailHost: "mail.elektrine.com", SPFInclude: "_spf.elektrine.com", DkimSelector: "elektrine"},
		log,
	)

	acmeCfg := &config.AcmeConfig{Disabled: true, TimeoutSeconds: 5}
	provisioner := NewCertificateProvisioner(repos, registry, acmeCfg, &config.RenewalConfig{ThresholdDays: 30}, log).(*certificateProvisioner)

	return &fixture{
		provisioner: provisioner,
		registry:    registry,
		domains:     domainRepo,
		cache:       cache,
		acmeCfg:     acmeCfg,
	}
}

func provisioningDomain(t *testing.T, f *fixture, hostname string) string {
	t.Helper()
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", hostname)
	require.NoError(t, err)
	_, err = f.registry.Verify(ctx, "user1", hostname)
	require.NoError(t, err)
	require.NoError(t, f.registry.ProvisionSSL(ctx, "user1", hostname))
	return record.ID
}

func TestProvision_SelfSignedMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := provisioningDomain(t, f, "example.com")

	require.NoError(t, f.provisioner.Provision(ctx, id))

	stored, err := f.domains.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enum.DomainStatusActive, stored.Status)
	assert.Equal(t, enum.SSLStatusIssued, stored.SSLStatus)
	assert.True(t, stored.HasIssuedCertificate())
	assert.Empty(t, stored.AcmeChallengeToken)

	pair, ok := f.cache.Get("example.com")
	require.True(t, ok)
	assert.NotEmpty(t, pair.CertificatePEM)
}

func TestProvision_SkipsFreshCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := provisioningDomain(t, f, "example.com")
	require.NoError(t, f.provisioner.Provision(ctx, id))

	before, err := f.domains.GetByID(ctx, id)
	require.NoError(t, err)

	// Replayed job: the certificate is far from expiry, nothing is re-issued.
	require.NoError(t, f.provisioner.Provision(ctx, id))

	after, err := f.domains.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.CertificateIssuedAt, after.CertificateIssuedAt)
	assert.Equal(t, before.Certificate, after.Certificate)
}

func TestProvision_UnknownDomain(t *testing.T) {
	f := newFixture(t)

	err := f.provisioner.Provision(context.Background(), "cdom_missing")
	assert.ErrorIs(t, err, er.ErrDomainNotFound)
}

type failingClient struct{}

func (failingClient) Register(registration.RegisterOptions) (*registration.Resource, error) {
	return &registration.Resource{}, nil
}

func (failingClient) SetHTTP01Provider(challenge.Provider) error { return nil }

func (failingClient) Obtain(certificate.ObtainRequest) (*certificate.Resource, error) {
	return nil, errors.New("acme: order failed")
}

func TestProvision_FailureMarksSSLFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.acmeCfg.Disabled = false
	f.provisioner.newClient = func(*accountUser) (acmeClient, error) {
		return failingClient{}, nil
	}

	id := provisioningDomain(t, f, "example.com")

	err := f.provisioner.Provision(ctx, id)
	assert.ErrorIs(t, err, er.ErrSslProvisioningFailed)

	stored, getErr := f.domains.GetByID(ctx, id)
	require.NoError(t, getErr)
	assert.Equal(t, enum.SSLStatusFailed, stored.SSLStatus)
	assert.Equal(t, 1, stored.ErrorCount)
	assert.Contains(t, stored.LastError, "order failed")
}

type issuingClient struct {
	certPEM  []byte
	keyPEM   []byte
	provider challenge.Provider
}

func (c *issuingClient) Register(registration.RegisterOptions) (*registration.Resource, error) {
	return &registration.Resource{}, nil
}

func (c *issuingClient) SetHTTP01Provider(provider challenge.Provider) error {
	c.provider = provider
	return nil
}

func (c *issuingClient) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	// Mimic the validation round trip: present the challenge, then issue.
	if err := c.provider.Present(request.Domains[0], "chal-token", "chal-token.keyauth"); err != nil {
		return nil, err
	}
	return &certificate.Resource{Certificate: c.certPEM, PrivateKey: c.keyPEM}, nil
}

func TestProvision_ACMEFlowStoresIssuedMaterial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	certPEM, keyPEM, err := issueSelfSigned("example.com")
	require.NoError(t, err)

	f.acmeCfg.Disabled = false
	client := &issuingClient{certPEM: certPEM, keyPEM: keyPEM}
	f.provisioner.newClient = func(*accountUser) (acmeClient, error) {
		return client, nil
	}

	id := provisioningDomain(t, f, "example.com")
	require.NoError(t, f.provisioner.Provision(ctx, id))

	stored, err := f.domains.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enum.SSLStatusIssued, stored.SSLStatus)
	// Challenge material is cleared once the certificate lands.
	assert.Empty(t, stored.AcmeChallengeToken)
	assert.Empty(t, stored.AcmeChallengeResponse)
}

func TestRenew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := provisioningDomain(t, f, "example.com")
	require.NoError(t, f.provisioner.Provision(ctx, id))

	first, err := f.domains.GetByID(ctx, id)
	require.NoError(t, err)

	// Renew always re-issues, even when the certificate is fresh.
	require.NoError(t, f.provisioner.Renew(ctx, id))

	second, err := f.domains.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate, second.Certificate)
	assert.Equal(t, enum.SSLStatusIssued, second.SSLStatus)
}

func TestRenew_RequiresActiveDomain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	err = f.provisioner.Renew(ctx, record.ID)
	assert.ErrorIs(t, err, er.ErrInvalidTransition)
}

func TestCertificateNotAfter(t *testing.T) {
	certPEM, _, err := issueSelfSigned("example.com")
	require.NoError(t, err)

	notAfter, err := certificateNotAfter(certPEM)
	require.NoError(t, err)
	assert.WithinDuration(t, utils.Now().Add(selfSignedValidity), notAfter, time.Minute)

	_, err = certificateNotAfter([]byte("garbage"))
	assert.Error(t, err)
}
