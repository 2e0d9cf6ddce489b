package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/opentracing/opentracing-go"
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
)

// acmeClient is the slice of lego the provisioner needs; tests substitute it.
type acmeClient interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

type clientFactory func(user *accountUser) (acmeClient, error)

type certificateProvisioner struct {
	postgres   *repository.Repositories
	registry   interfaces.DomainRegistry
	acmeCfg    *config.AcmeConfig
	renewalCfg *config.RenewalConfig
	log        logger.Logger
	newClient  clientFactory
}

func NewCertificateProvisioner(
	postgres *repository.Repositories,
	registry interfaces.DomainRegistry,
	acmeCfg *config.AcmeConfig,
	renewalCfg *config.RenewalConfig,
	log logger.Logger,
) interfaces.CertificateProvisioner {
	p := &certificateProvisioner{
		postgres:   postgres,
		registry:   registry,
		acmeCfg:    acmeCfg,
		renewalCfg: renewalCfg,
		log:        log,
	}
	p.newClient = p.legoClient
	return p
}

func (p *certificateProvisioner) legoClient(user *accountUser) (acmeClient, error) {
	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = p.acmeCfg.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, err
	}
	return &legoAdapter{client: client}, nil
}

type legoAdapter struct {
	client *lego.Client
}

func (a *legoAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return a.client.Registration.Register(options)
}

func (a *legoAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return a.client.Challenge.SetHTTP01Provider(provider)
}

func (a *legoAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return a.client.Certificate.Obtain(request)
}

// renewalWindow is how close to expiry a certificate must be before Provision
// treats re-issuance as necessary rather than a no-op.
func (p *certificateProvisioner) renewalWindow() time.Duration {
	return time.Duration(p.renewalCfg.ThresholdDays) * 24 * time.Hour
}

func (p *certificateProvisioner) Provision(ctx context.Context, domainID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CertificateProvisioner.Provision")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, domainID)

	record, err := p.postgres.CustomDomainRepository.GetByID(ctx, domainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if record == nil {
		return er.ErrDomainNotFound
	}
	tracing.TagDomain(span, record.Domain)

	// A job replayed after a successful issue is a no-op while the
	// certificate is still comfortably valid.
	if record.Status == enum.DomainStatusActive && record.HasIssuedCertificate() &&
		record.CertificateExpiresAt.After(utils.Now().Add(p.renewalWindow())) {
		p.log.Infof("certificate for %s is current, skipping provisioning", record.Domain)
		return nil
	}

	return p.issue(ctx, record)
}

// Renew re-issues without re-verifying DNS ownership; a valid issued
// certificate is itself proof of control at issuance time.
func (p *certificateProvisioner) Renew(ctx context.Context, domainID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CertificateProvisioner.Renew")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, domainID)

	record, err := p.postgres.CustomDomainRepository.GetByID(ctx, domainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if record == nil {
		return er.ErrDomainNotFound
	}
	tracing.TagDomain(span, record.Domain)

	if record.Status != enum.DomainStatusActive {
		return er.ErrInvalidTransition
	}
	return p.issue(ctx, record)
}

func (p *certificateProvisioner) issue(ctx context.Context, record *models.CustomDomain) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CertificateProvisioner.issue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, record.Domain)

	certPEM, keyPEM, err := p.obtainCertificate(ctx, record.Domain)
	if err != nil {
		tracing.TraceErr(span, err)
		if markErr := p.registry.MarkSSLFailed(ctx, record.Domain, err); markErr != nil {
			p.log.Errorf("error marking ssl failed for %s: %v", record.Domain, markErr)
		}
		return errors.Wrap(er.ErrSslProvisioningFailed, err.Error())
	}

	expiresAt, err := certificateNotAfter(certPEM)
	if err != nil {
		tracing.TraceErr(span, err)
		if markErr := p.registry.MarkSSLFailed(ctx, record.Domain, err); markErr != nil {
			p.log.Errorf("error marking ssl failed for %s: %v", record.Domain, markErr)
		}
		return errors.Wrap(er.ErrSslProvisioningFailed, err.Error())
	}

	err = p.registry.StoreCertificate(ctx, record.Domain, certPEM, keyPEM, utils.Now(), expiresAt)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	p.log.Infof("certificate issued for %s, valid until %s", record.Domain, expiresAt.Format(time.RFC3339))
	return nil
}

func (p *certificateProvisioner) obtainCertificate(ctx context.Context, hostname string) ([]byte, []byte, error) {
	if p.acmeCfg.Disabled {
		return issueSelfSigned(hostname)
	}

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error generating account key")
	}
	user := &accountUser{email: p.acmeCfg.AccountEmail, key: accountKey}

	client, err := p.newClient(user)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating acme client")
	}

	if err := client.SetHTTP01Provider(&registryChallengeProvider{registry: p.registry}); err != nil {
		return nil, nil, errors.Wrap(err, "error configuring http-01 provider")
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "error registering acme account")
	}
	user.registration = reg

	resource, err := p.obtainWithTimeout(ctx, client, hostname)
	if err != nil {
		return nil, nil, err
	}
	if len(resource.Certificate) == 0 || len(resource.PrivateKey) == 0 {
		return nil, nil, errors.New("acme server returned empty certificate material")
	}
	return resource.Certificate, resource.PrivateKey, nil
}

// obtainWithTimeout bounds the issuance round trip. lego's Obtain takes no
// context, so the call runs in a goroutine and is abandoned on timeout; the
// challenge row is cleaned up by the failure path either way.
func (p *certificateProvisioner) obtainWithTimeout(ctx context.Context, client acmeClient, hostname string) (*certificate.Resource, error) {
	timeout := time.Duration(p.acmeCfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type obtainResult struct {
		resource *certificate.Resource
		err      error
	}
	done := make(chan obtainResult, 1)
	go func() {
		resource, err := client.Obtain(certificate.ObtainRequest{
			Domains: []string{hostname},
			Bundle:  true,
		})
		done <- obtainResult{resource: resource, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "acme issuance timed out")
	case result := <-done:
		if result.err != nil {
			return nil, errors.Wrap(result.err, "error obtaining certificate")
		}
		return result.resource, nil
	}
}

// certificateNotAfter parses the leaf certificate's expiry from bundled PEM.
func certificateNotAfter(certPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return time.Time{}, errors.New("no certificate block in pem")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "error parsing certificate")
	}
	return leaf.NotAfter, nil
}
