package routing

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/elektrine/domainstack/interfaces"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

// emailReadyTTL bounds how stale a cached readiness verdict can be. DNS
// changes propagate on the order of minutes anyway.
const emailReadyTTL = 5 * time.Minute

type emailRoutingTable struct {
	postgres *repository.Repositories
	verifier interfaces.DNSVerifier
	codec    interfaces.SecretCodec
	redis    *redis.Client
	log      logger.Logger
}

func NewEmailRoutingTable(
	postgres *repository.Repositories,
	verifier interfaces.DNSVerifier,
	codec interfaces.SecretCodec,
	redisClient *redis.Client,
	log logger.Logger,
) interfaces.EmailRoutingTable {
	return &emailRoutingTable{
		postgres: postgres,
		verifier: verifier,
		codec:    codec,
		redis:    redisClient,
		log:      log,
	}
}

func (s *emailRoutingTable) emailEnabledDomain(ctx context.Context, hostname string) (*models.CustomDomain, error) {
	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, er.ErrDomainNotFound
	}
	if !record.EmailEnabled {
		return nil, er.ErrEmailNotEnabled
	}
	return record, nil
}

func (s *emailRoutingTable) FindMailboxForEmail(ctx context.Context, address string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailRoutingTable.FindMailboxForEmail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	localPart, hostname, err := utils.SplitEmailAddress(address)
	if err != nil {
		return "", err
	}
	tracing.TagDomain(span, hostname)

	record, err := s.emailEnabledDomain(ctx, hostname)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	match, err := s.postgres.CustomDomainAddressRepository.GetByLocalPart(ctx, record.ID, localPart)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if match != nil && match.Enabled {
		return match.MailboxID, nil
	}

	if record.CatchAllEnabled && record.CatchAllMailboxID != "" {
		return record.CatchAllMailboxID, nil
	}
	return "", er.ErrAddressNotFound
}

func (s *emailRoutingTable) DKIMPrivateKey(ctx context.Context, domain string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailRoutingTable.DKIMPrivateKey")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, domain)

	record, err := s.emailEnabledDomain(ctx, domain)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if len(record.DkimPrivateKey) == 0 {
		return nil, er.ErrNoDkimKey
	}

	key, err := s.codec.Decrypt(record.DkimPrivateKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "error decrypting dkim key")
	}
	return key, nil
}

func emailReadyKey(hostname string) string {
	return "emailready:" + hostname
}

// EmailReady is called on every inbound and outbound message for the domain,
// so the live DNS verdict is cached in redis for a few minutes.
func (s *emailRoutingTable) EmailReady(ctx context.Context, domain string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailRoutingTable.EmailReady")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, domain)

	hostname := utils.NormalizeDomain(domain)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, emailReadyKey(hostname)).Result()
		if err == nil {
			return cached == "1", nil
		}
		if !errors.Is(err, redis.Nil) {
			s.log.Warnf("redis error reading email readiness for %s: %v", hostname, err)
		}
	}

	record, err := s.emailEnabledDomain(ctx, hostname)
	if err != nil {
		if errors.Is(err, er.ErrEmailNotEnabled) {
			s.cacheReady(ctx, hostname, false)
			return false, nil
		}
		tracing.TraceErr(span, err)
		return false, err
	}

	result := s.verifier.VerifyEmailDNS(ctx, hostname, record.DkimSelector, record.DkimPublicKey)
	ready := result.AllOK()

	s.cacheReady(ctx, hostname, ready)
	return ready, nil
}

func (s *emailRoutingTable) cacheReady(ctx context.Context, hostname string, ready bool) {
	if s.redis == nil {
		return
	}
	value := "0"
	if ready {
		value = "1"
	}
	if err := s.redis.Set(ctx, emailReadyKey(hostname), value, emailReadyTTL).Err(); err != nil {
		s.log.Warnf("redis error caching email readiness for %s: %v", hostname, err)
	}
}
