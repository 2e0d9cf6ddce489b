package services

import (
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/services/acme"
	"github.com/elektrine/domainstack/services/certcache"
	"github.com/elektrine/domainstack/services/dnscheck"
	"github.com/elektrine/domainstack/services/domain"
	"github.com/elektrine/domainstack/services/jobs"
	"github.com/elektrine/domainstack/services/routing"
	"github.com/elektrine/domainstack/services/secrets"
)

type Services struct {
	SecretCodec            interfaces.SecretCodec
	DNSVerifier            interfaces.DNSVerifier
	CertificateCache       interfaces.CertificateCache
	JobsService            interfaces.JobsService
	DomainRegistry         interfaces.DomainRegistry
	CertificateProvisioner interfaces.CertificateProvisioner
	EmailRoutingTable      interfaces.EmailRoutingTable
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, redisClient *redis.Client) (*Services, error) {
	codec, err := secrets.NewSecretCodec(cfg.EncryptionConfig.MasterSecret)
	if err != nil {
		return nil, errors.Wrap(err, "error initializing secret codec")
	}

	verifier := dnscheck.NewDNSVerifier(dnscheck.NewResolver(cfg.DNSConfig), cfg.AppConfig, cfg.DomainConfig)
	cache := certcache.NewCertificateCache(repos, codec, log)

	jobsService, err := jobs.NewJobsService(cfg.AppConfig.RabbitMQURL, redisClient, log)
	if err != nil {
		return nil, errors.Wrap(err, "error initializing jobs service")
	}

	registry := domain.NewDomainRegistry(repos, verifier, cache, codec, jobsService, cfg.AppConfig, cfg.DomainConfig, log)
	provisioner := acme.NewCertificateProvisioner(repos, registry, cfg.AcmeConfig, cfg.RenewalConfig, log)

	// The job handler closes the registry -> jobs -> provisioner cycle; it is
	// registered after construction, before the consumer starts.
	jobsService.SetHandler(domainJobHandler(provisioner))

	routingTable := routing.NewEmailRoutingTable(repos, verifier, codec, redisClient, log)

	return &Services{
		SecretCodec:            codec,
		DNSVerifier:            verifier,
		CertificateCache:       cache,
		JobsService:            jobsService,
		DomainRegistry:         registry,
		CertificateProvisioner: provisioner,
		EmailRoutingTable:      routingTable,
	}, nil
}
