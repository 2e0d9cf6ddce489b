package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/repository/mocks"
	"github.com/elektrine/domainstack/services/certcache"
	"github.com/elektrine/domainstack/services/secrets"
)

type stubVerifier struct {
	ownership interfaces.OwnershipResult
	emailDNS  interfaces.EmailDNSResult
}

func (v *stubVerifier) VerifyOwnership(context.Context, string, string) interfaces.OwnershipResult {
	return v.ownership
}

func (v *stubVerifier) VerifyEmailDNS(context.Context, string, string, string) interfaces.EmailDNSResult {
	return v.emailDNS
}

func (v *stubVerifier) CheckARecord(context.Context, string) interfaces.RecordCheck {
	return interfaces.RecordCheck{Status: enum.DNSCheckOK}
}

type stubJobs struct {
	mu       sync.Mutex
	enqueued []interfaces.DomainJob
}

func (j *stubJobs) Enqueue(_ context.Context, job interfaces.DomainJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enqueued = append(j.enqueued, job)
	return nil
}

func (j *stubJobs) SetHandler(interfaces.JobHandler) {}
func (j *stubJobs) Start(context.Context) error      { return nil }
func (j *stubJobs) Stop()                            {}

type fixture struct {
	registry interfaces.DomainRegistry
	domains  *mocks.InMemoryCustomDomainRepository
	verifier *stubVerifier
	jobs     *stubJobs
	cache    interfaces.CertificateCache
	codec    interfaces.SecretCodec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	domainRepo := mocks.NewInMemoryCustomDomainRepository()
	addressRepo := mocks.NewInMemoryCustomDomainAddressRepository()
	repos := &repository.Repositories{
		CustomDomainRepository:        domainRepo,
		CustomDomainAddressRepository: addressRepo,
	}

	codec, err := secrets.NewSecretCodec("test-master-secret")
	require.NoError(t, err)
	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	verifier := &stubVerifier{ownership: interfaces.OwnershipResult{Status: enum.DNSCheckOK}}
	jobs := &stubJobs{}
	cache := certcache.NewCertificateCache(repos, codec, log)

	registry := NewDomainRegistry(
		repos, verifier, cache, codec, jobs,
		&config.AppConfig{PublicIP: "203.0.113.10"},
		&config.DomainConfig{
			MaxDomainsPerUser: 2,
			MailHost:          "mail.elektrine.com",
			SPFInclude:        "_spf.elektrine.com",
			DkimSelector:      "elektrine",
		},
		log,
	)

	return &fixture{
		registry: registry,
		domains:  domainRepo,
		verifier: verifier,
		jobs:     jobs,
		cache:    cache,
		codec:    codec,
	}
}

func TestAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "Example.COM.")
	require.NoError(t, err)
	assert.Equal(t, "example.com", record.Domain)
	assert.Equal(t, enum.DomainStatusPending, record.Status)
	assert.Equal(t, enum.SSLStatusNone, record.SSLStatus)
	assert.NotEmpty(t, record.VerificationToken)
}

func TestAdd_RejectsInvalidHostname(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, hostname := range []string{"", "no-dots", "-bad.example.com", "exa mple.com", "http://example.com"} {
		_, err := f.registry.Add(ctx, "user1", hostname)
		assert.ErrorIs(t, err, er.ErrInvalidDomainName, hostname)
	}
}

func TestAdd_DuplicateAndQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Add(ctx, "user1", "one.example.com")
	require.NoError(t, err)

	_, err = f.registry.Add(ctx, "user2", "one.example.com")
	assert.ErrorIs(t, err, er.ErrDomainExists)

	_, err = f.registry.Add(ctx, "user1", "two.example.com")
	require.NoError(t, err)

	_, err = f.registry.Add(ctx, "user1", "three.example.com")
	assert.ErrorIs(t, err, er.ErrDomainLimitReached)
}

func TestGet_EnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	_, err = f.registry.Get(ctx, "user2", "example.com")
	assert.ErrorIs(t, err, er.ErrNotOwner)

	_, err = f.registry.Get(ctx, "user1", "missing.example.com")
	assert.ErrorIs(t, err, er.ErrDomainNotFound)
}

func TestVerify_MarksVerifiedOnMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	result, err := f.registry.Verify(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.True(t, result.Status.OK())

	record, err = f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.DomainStatusVerified, record.Status)
	assert.NotNil(t, record.VerifiedAt)
}

func TestVerify_RecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	f.verifier.ownership = interfaces.OwnershipResult{Status: enum.DNSCheckTokenMismatch}

	result, err := f.registry.Verify(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, enum.DNSCheckTokenMismatch, result.Status)

	record, err = f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.DomainStatusPending, record.Status)
	assert.Equal(t, 1, record.ErrorCount)
	assert.NotEmpty(t, record.LastError)
}

func TestVerify_IdempotentOnceVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	_, err = f.registry.Verify(ctx, "user1", "example.com")
	require.NoError(t, err)
	verified, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	firstVerifiedAt := verified.VerifiedAt

	_, err = f.registry.Verify(ctx, "user1", "example.com")
	require.NoError(t, err)

	again, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, firstVerifiedAt, again.VerifiedAt)
}

func TestProvisionSSL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	// Provisioning before verification is an invalid transition.
	err = f.registry.ProvisionSSL(ctx, "user1", "example.com")
	assert.ErrorIs(t, err, er.ErrInvalidTransition)
	assert.Empty(t, f.jobs.enqueued)

	_, err = f.registry.Verify(ctx, "user1", "example.com")
	require.NoError(t, err)

	require.NoError(t, f.registry.ProvisionSSL(ctx, "user1", "example.com"))

	record, err = f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.DomainStatusProvisioningSSL, record.Status)
	assert.Equal(t, enum.SSLStatusProvisioning, record.SSLStatus)

	require.Len(t, f.jobs.enqueued, 1)
	assert.Equal(t, record.ID, f.jobs.enqueued[0].DomainID)
	assert.Equal(t, enum.JobActionProvision, f.jobs.enqueued[0].Action)

	// A second concurrent request loses the status precondition race.
	err = f.registry.ProvisionSSL(ctx, "user1", "example.com")
	assert.ErrorIs(t, err, er.ErrInvalidTransition)
}

func provisionDomain(t *testing.T, f *fixture, userID, hostname string) *models.CustomDomain {
	t.Helper()
	ctx := context.Background()

	record, err := f.registry.Add(ctx, userID, hostname)
	require.NoError(t, err)
	_, err = f.registry.Verify(ctx, userID, hostname)
	require.NoError(t, err)
	require.NoError(t, f.registry.ProvisionSSL(ctx, userID, hostname))
	return record
}

func TestStoreCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := provisionDomain(t, f, "user1", "example.com")
	certPEM, keyPEM := selfSignedPair(t, "example.com")
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(90 * 24 * time.Hour)

	require.NoError(t, f.registry.StoreCertificate(ctx, "example.com", certPEM, keyPEM, issuedAt, expiresAt))

	stored, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.DomainStatusActive, stored.Status)
	assert.Equal(t, enum.SSLStatusIssued, stored.SSLStatus)
	assert.True(t, stored.HasIssuedCertificate())

	// Persisted material is encrypted, never plaintext PEM.
	assert.NotEqual(t, certPEM, stored.Certificate)
	decrypted, err := f.codec.Decrypt(stored.Certificate)
	require.NoError(t, err)
	assert.Equal(t, certPEM, decrypted)

	// Cache is updated before StoreCertificate returns.
	pair, ok := f.cache.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, certPEM, pair.CertificatePEM)
}

func TestStoreCertificate_DeleteRaceDiscardsMaterial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	provisionDomain(t, f, "user1", "example.com")
	require.NoError(t, f.registry.Delete(ctx, "user1", "example.com"))

	certPEM, keyPEM := selfSignedPair(t, "example.com")
	err := f.registry.StoreCertificate(ctx, "example.com", certPEM, keyPEM, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, er.ErrDomainNotFound)

	_, ok := f.cache.Get("example.com")
	assert.False(t, ok)
}

func TestDelete_EvictsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	provisionDomain(t, f, "user1", "example.com")
	certPEM, keyPEM := selfSignedPair(t, "example.com")
	require.NoError(t, f.registry.StoreCertificate(ctx, "example.com", certPEM, keyPEM, time.Now(), time.Now().Add(time.Hour)))

	_, ok := f.cache.Get("example.com")
	require.True(t, ok)

	require.NoError(t, f.registry.Delete(ctx, "user1", "example.com"))

	_, ok = f.cache.Get("example.com")
	assert.False(t, ok)

	_, err := f.registry.Get(ctx, "user1", "example.com")
	assert.ErrorIs(t, err, er.ErrDomainNotFound)
}

func TestMarkSSLFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := provisionDomain(t, f, "user1", "example.com")
	require.NoError(t, f.registry.PersistChallenge(ctx, "example.com", "chal-token", "chal-token.keyauth"))

	require.NoError(t, f.registry.MarkSSLFailed(ctx, "example.com", er.ErrSslProvisioningFailed))

	stored, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.SSLStatusFailed, stored.SSLStatus)
	assert.Equal(t, 1, stored.ErrorCount)
	// Challenge material never survives a terminal provisioning state.
	assert.Empty(t, stored.AcmeChallengeToken)
	assert.Empty(t, stored.AcmeChallengeResponse)
}

func TestProvisionSSL_RetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := provisionDomain(t, f, "user1", "example.com")
	require.NoError(t, f.registry.MarkSSLFailed(ctx, "example.com", er.ErrSslProvisioningFailed))

	// A failed first attempt must stay user-retryable without re-verification.
	require.NoError(t, f.registry.ProvisionSSL(ctx, "user1", "example.com"))

	stored, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.DomainStatusProvisioningSSL, stored.Status)
	assert.Equal(t, enum.SSLStatusProvisioning, stored.SSLStatus)
	require.Len(t, f.jobs.enqueued, 2)
	assert.Equal(t, enum.JobActionProvision, f.jobs.enqueued[1].Action)

	// Retry is only open to failed attempts, not ones still in flight.
	err = f.registry.ProvisionSSL(ctx, "user1", "example.com")
	assert.ErrorIs(t, err, er.ErrInvalidTransition)
}

func TestChallengeResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	provisionDomain(t, f, "user1", "example.com")
	require.NoError(t, f.registry.PersistChallenge(ctx, "example.com", "chal-token", "chal-token.keyauth"))

	response, err := f.registry.ChallengeResponse(ctx, "chal-token")
	require.NoError(t, err)
	assert.Equal(t, "chal-token.keyauth", response)

	_, err = f.registry.ChallengeResponse(ctx, "unknown-token")
	assert.ErrorIs(t, err, er.ErrChallengeNotFound)

	require.NoError(t, f.registry.ClearChallenge(ctx, "example.com"))
	_, err = f.registry.ChallengeResponse(ctx, "chal-token")
	assert.ErrorIs(t, err, er.ErrChallengeNotFound)
}

func TestExpectedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	records, err := f.registry.ExpectedRecords(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "_elektrine.example.com", records.VerificationHost)
	assert.Equal(t, "elektrine-verify="+record.VerificationToken, records.VerificationValue)
	assert.Equal(t, "203.0.113.10", records.ApexA)
	assert.Equal(t, "mail.elektrine.com", records.MX)
	assert.Contains(t, records.SPF, "include:_spf.elektrine.com")
	assert.Empty(t, records.DKIMHost)
}

func TestEnableEmail_GeneratesDKIMKeyPairOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	record, err := f.registry.EnableEmail(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.True(t, record.EmailEnabled)
	assert.Equal(t, "elektrine", record.DkimSelector)
	assert.NotEmpty(t, record.DkimPublicKey)
	assert.NotEmpty(t, record.DkimPrivateKey)

	// Private key is stored encrypted.
	privatePEM, err := f.codec.Decrypt(record.DkimPrivateKey)
	require.NoError(t, err)
	assert.Contains(t, string(privatePEM), "PRIVATE KEY")

	// Re-enabling keeps the published keypair stable.
	again, err := f.registry.EnableEmail(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, record.DkimPublicKey, again.DkimPublicKey)

	records, err := f.registry.ExpectedRecords(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "elektrine._domainkey.example.com", records.DKIMHost)
	assert.Contains(t, records.DKIMValue, "p="+record.DkimPublicKey)
}

func TestDisableEmail_ClearsDNSFlags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)
	_, err = f.registry.EnableEmail(ctx, "user1", "example.com")
	require.NoError(t, err)

	f.verifier.emailDNS = interfaces.EmailDNSResult{
		MX: enum.DNSCheckOK, SPF: enum.DNSCheckOK, DKIM: enum.DNSCheckOK, DMARC: enum.DNSCheckOK,
	}
	_, err = f.registry.RefreshEmailDNS(ctx, "example.com")
	require.NoError(t, err)

	stored, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, stored.MXVerified)

	require.NoError(t, f.registry.DisableEmail(ctx, "user1", "example.com"))

	stored, err = f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailEnabled)
	assert.False(t, stored.MXVerified)
	assert.False(t, stored.SPFVerified)
	assert.False(t, stored.DKIMVerified)
	assert.False(t, stored.DMARCVerified)
}

func TestSetCatchAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	err = f.registry.SetCatchAll(ctx, "user1", "example.com", true, "")
	assert.ErrorIs(t, err, er.ErrMailboxRequired)

	require.NoError(t, f.registry.SetCatchAll(ctx, "user1", "example.com", true, "mbox_1"))
	stored, err := f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.True(t, stored.CatchAllEnabled)
	assert.Equal(t, "mbox_1", stored.CatchAllMailboxID)

	require.NoError(t, f.registry.SetCatchAll(ctx, "user1", "example.com", false, "ignored"))
	stored, err = f.domains.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.False(t, stored.CatchAllEnabled)
	assert.Empty(t, stored.CatchAllMailboxID)
}

func TestAddresses_CRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.Add(ctx, "user1", "example.com")
	require.NoError(t, err)

	address, err := f.registry.AddAddress(ctx, "user1", "example.com", "Sales", "mbox_1", "sales inbox")
	require.NoError(t, err)
	assert.Equal(t, "sales", address.LocalPart)
	assert.True(t, address.Enabled)

	// Local parts are unique per domain, case insensitively.
	_, err = f.registry.AddAddress(ctx, "user1", "example.com", "SALES", "mbox_2", "")
	assert.ErrorIs(t, err, er.ErrAddressExists)

	_, err = f.registry.AddAddress(ctx, "user1", "example.com", "info", "", "")
	assert.ErrorIs(t, err, er.ErrMailboxRequired)

	_, err = f.registry.AddAddress(ctx, "user1", "example.com", "bad@part", "mbox_1", "")
	assert.ErrorIs(t, err, er.ErrInvalidEmailAddress)

	updated, err := f.registry.UpdateAddress(ctx, "user1", "example.com", address.ID, false, "mbox_9", "closed")
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "mbox_9", updated.MailboxID)

	addresses, err := f.registry.ListAddresses(ctx, "user1", "example.com")
	require.NoError(t, err)
	require.Len(t, addresses, 1)

	require.NoError(t, f.registry.RemoveAddress(ctx, "user1", "example.com", address.ID))
	addresses, err = f.registry.ListAddresses(ctx, "user1", "example.com")
	require.NoError(t, err)
	assert.Empty(t, addresses)

	err = f.registry.RemoveAddress(ctx, "user1", "example.com", address.ID)
	assert.ErrorIs(t, err, er.ErrAddressNotFound)
}
