package domain

import (
	"context"
	"regexp"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
	"github.com/elektrine/domainstack/services/dnscheck"
)

// Verification tokens carry 24 bytes of entropy (32 chars base64url).
const verificationTokenBytes = 24

var hostnameRegexp = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

type domainRegistry struct {
	postgres  *repository.Repositories
	verifier  interfaces.DNSVerifier
	cache     interfaces.CertificateCache
	codec     interfaces.SecretCodec
	jobs      interfaces.JobsService
	appCfg    *config.AppConfig
	domainCfg *config.DomainConfig
	log       logger.Logger
}

func NewDomainRegistry(
	postgres *repository.Repositories,
	verifier interfaces.DNSVerifier,
	cache interfaces.CertificateCache,
	codec interfaces.SecretCodec,
	jobs interfaces.JobsService,
	appCfg *config.AppConfig,
	domainCfg *config.DomainConfig,
	log logger.Logger,
) interfaces.DomainRegistry {
	return &domainRegistry{
		postgres:  postgres,
		verifier:  verifier,
		cache:     cache,
		codec:     codec,
		jobs:      jobs,
		appCfg:    appCfg,
		domainCfg: domainCfg,
		log:       log,
	}
}

// getOwned loads a domain and enforces that userID owns it.
func (s *domainRegistry) getOwned(ctx context.Context, userID, hostname string) (*models.CustomDomain, error) {
	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, er.ErrDomainNotFound
	}
	if record.UserID != userID {
		return nil, er.ErrNotOwner
	}
	return record, nil
}

func (s *domainRegistry) Add(ctx context.Context, userID, hostname string) (*models.CustomDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.Add")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserId(span, userID)
	tracing.TagDomain(span, hostname)

	hostname = utils.NormalizeDomain(hostname)
	if !hostnameRegexp.MatchString(hostname) || len(hostname) > 253 {
		return nil, er.ErrInvalidDomainName
	}

	count, err := s.postgres.CustomDomainRepository.CountByUser(ctx, userID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if count >= int64(s.domainCfg.MaxDomainsPerUser) {
		return nil, er.ErrDomainLimitReached
	}

	existing, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, hostname)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		return nil, er.ErrDomainExists
	}

	token, err := utils.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "error generating verification token")
	}

	record := &models.CustomDomain{
		UserID:            userID,
		Domain:            hostname,
		Status:            enum.DomainStatusPending,
		VerificationToken: token,
		SSLStatus:         enum.SSLStatusNone,
	}
	if err := s.postgres.CustomDomainRepository.Create(ctx, record); err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "error creating domain"))
		return nil, err
	}

	s.log.Infof("registered custom domain %s for user %s via %s", hostname, userID, utils.GetAppSourceFromContext(ctx))
	return record, nil
}

func (s *domainRegistry) Get(ctx context.Context, userID, hostname string) (*models.CustomDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.Get")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	return s.getOwned(ctx, userID, hostname)
}

func (s *domainRegistry) List(ctx context.Context, userID string) ([]models.CustomDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserId(span, userID)

	return s.postgres.CustomDomainRepository.GetByUser(ctx, userID)
}

// Delete evicts the certificate cache before the row goes away so no TLS
// handshake can be served off a deleted domain, then removes addresses and
// finally the domain itself.
func (s *domainRegistry) Delete(ctx context.Context, userID, hostname string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return err
	}

	s.cache.Delete(record.Domain)

	if err := s.postgres.CustomDomainAddressRepository.DeleteByDomain(ctx, record.ID); err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "error deleting addresses"))
		return err
	}
	if err := s.postgres.CustomDomainRepository.Delete(ctx, record.ID); err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "error deleting domain"))
		return err
	}

	s.log.Infof("deleted custom domain %s", record.Domain)
	return nil
}

func (s *domainRegistry) Verify(ctx context.Context, userID, hostname string) (interfaces.OwnershipResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.Verify")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return interfaces.OwnershipResult{}, err
	}

	result := s.verifier.VerifyOwnership(ctx, record.Domain, record.VerificationToken)
	span.LogFields(tracingLog.String("result.status", result.Status.String()))

	if result.Status.OK() {
		// Idempotent for already-verified domains.
		if err := s.postgres.CustomDomainRepository.MarkVerified(ctx, record.ID); err != nil {
			tracing.TraceErr(span, err)
			return result, err
		}
		return result, nil
	}

	if record.Status == enum.DomainStatusPending {
		if err := s.postgres.CustomDomainRepository.RecordFailure(ctx, record.ID, "ownership verification failed: "+result.Status.String()); err != nil {
			tracing.TraceErr(span, err)
		}
	}
	return result, nil
}

func (s *domainRegistry) ProvisionSSL(ctx context.Context, userID, hostname string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.ProvisionSSL")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return err
	}

	if err := s.postgres.CustomDomainRepository.BeginProvisioning(ctx, record.ID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.jobs.Enqueue(ctx, interfaces.DomainJob{DomainID: record.ID, Action: enum.JobActionProvision}); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	s.log.Infof("ssl provisioning queued for %s", record.Domain)
	return nil
}

func (s *domainRegistry) StoreCertificate(ctx context.Context, hostname string, certificatePEM, privateKeyPEM []byte, issuedAt, expiresAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.StoreCertificate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if record == nil {
		return er.ErrDomainNotFound
	}

	encCert, err := s.codec.Encrypt(certificatePEM)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "error encrypting certificate")
	}
	encKey, err := s.codec.Encrypt(privateKeyPEM)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "error encrypting private key")
	}

	err = s.postgres.CustomDomainRepository.StoreCertificate(ctx, record.ID, encCert, encKey, issuedAt, expiresAt)
	if err != nil {
		// The domain was deleted or reset while the job ran; the issued
		// material is discarded and any stale cache entry evicted.
		if errors.Is(err, er.ErrInvalidTransition) {
			s.cache.Delete(record.Domain)
		}
		tracing.TraceErr(span, err)
		return err
	}

	if err := s.cache.Put(record.Domain, certificatePEM, privateKeyPEM); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "error caching certificate")
	}

	s.log.Infof("certificate stored for %s, expires %s", record.Domain, expiresAt.Format(time.RFC3339))
	return nil
}

func (s *domainRegistry) MarkSSLFailed(ctx context.Context, hostname string, cause error) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.MarkSSLFailed")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)
	tracing.TraceErr(span, cause)

	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		return err
	}
	if record == nil {
		return er.ErrDomainNotFound
	}

	message := er.ErrSslProvisioningFailed.Error()
	if cause != nil {
		message = cause.Error()
	}
	s.log.Warnf("ssl provisioning failed for %s: %s", record.Domain, message)
	return s.postgres.CustomDomainRepository.MarkSSLFailed(ctx, record.ID, message)
}

func (s *domainRegistry) PersistChallenge(ctx context.Context, hostname, token, keyAuth string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.PersistChallenge")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		return err
	}
	if record == nil {
		return er.ErrDomainNotFound
	}
	return s.postgres.CustomDomainRepository.SetChallenge(ctx, record.ID, token, keyAuth)
}

func (s *domainRegistry) ClearChallenge(ctx context.Context, hostname string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.ClearChallenge")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		return err
	}
	if record == nil {
		return er.ErrDomainNotFound
	}
	return s.postgres.CustomDomainRepository.ClearChallenge(ctx, record.ID)
}

// ChallengeResponse serves the HTTP-01 key authorization for a token. The
// lookup is unauthenticated; Let's Encrypt validation servers call it.
func (s *domainRegistry) ChallengeResponse(ctx context.Context, token string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.ChallengeResponse")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if token == "" {
		return "", er.ErrChallengeNotFound
	}
	record, err := s.postgres.CustomDomainRepository.GetByChallengeToken(ctx, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if record == nil || record.AcmeChallengeResponse == "" {
		return "", er.ErrChallengeNotFound
	}
	return record.AcmeChallengeResponse, nil
}

func (s *domainRegistry) ExpectedRecords(ctx context.Context, userID, hostname string) (*interfaces.ExpectedDNSRecords, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.ExpectedRecords")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return nil, err
	}

	records := &interfaces.ExpectedDNSRecords{
		VerificationHost:  dnscheck.OwnershipRecordName(record.Domain),
		VerificationValue: dnscheck.OwnershipRecordValue(record.VerificationToken),
		ApexA:             s.appCfg.PublicIP,
		MX:                s.domainCfg.MailHost,
		SPF:               "v=spf1 include:" + s.domainCfg.SPFInclude + " ~all",
		DMARC:             "v=DMARC1; p=quarantine; adkim=s; aspf=s",
	}
	if record.EmailEnabled && record.DkimPublicKey != "" {
		records.DKIMHost = record.DkimSelector + "._domainkey." + record.Domain
		records.DKIMValue = "v=DKIM1; k=rsa; p=" + record.DkimPublicKey
	}
	return records, nil
}
