package domain

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/interfaces"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

func (s *domainRegistry) RefreshEmailDNS(ctx context.Context, hostname string) (interfaces.EmailDNSResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.RefreshEmailDNS")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.postgres.CustomDomainRepository.GetByDomain(ctx, utils.NormalizeDomain(hostname))
	if err != nil {
		tracing.TraceErr(span, err)
		return interfaces.EmailDNSResult{}, err
	}
	if record == nil {
		return interfaces.EmailDNSResult{}, er.ErrDomainNotFound
	}
	if !record.EmailEnabled {
		return interfaces.EmailDNSResult{}, er.ErrEmailNotEnabled
	}

	result := s.verifier.VerifyEmailDNS(ctx, record.Domain, record.DkimSelector, record.DkimPublicKey)

	err = s.postgres.CustomDomainRepository.SetEmailDNSFlags(ctx, record.ID,
		result.MX.OK(), result.SPF.OK(), result.DKIM.OK(), result.DMARC.OK())
	if err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}
	return result, nil
}

// EnableEmail generates the domain's DKIM keypair on first enable. The
// private key is stored encrypted; re-enabling keeps the existing keypair so
// published DNS records stay valid.
func (s *domainRegistry) EnableEmail(ctx context.Context, userID, hostname string) (*models.CustomDomain, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.EnableEmail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return nil, err
	}

	selector := record.DkimSelector
	publicKey := record.DkimPublicKey
	privateKey := record.DkimPrivateKey

	if publicKey == "" || len(privateKey) == 0 {
		selector = s.domainCfg.DkimSelector
		generatedPublic, generatedPrivate, err := generateDKIMKeyPair()
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "error generating dkim keypair")
		}
		publicKey = generatedPublic
		privateKey, err = s.codec.Encrypt(generatedPrivate)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "error encrypting dkim private key")
		}
	}

	if err := s.postgres.CustomDomainRepository.EnableEmail(ctx, record.ID, selector, publicKey, privateKey); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	s.log.Infof("email enabled for %s with dkim selector %s", record.Domain, selector)
	return s.postgres.CustomDomainRepository.GetByID(ctx, record.ID)
}

func (s *domainRegistry) DisableEmail(ctx context.Context, userID, hostname string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.DisableEmail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return err
	}
	return s.postgres.CustomDomainRepository.DisableEmail(ctx, record.ID)
}

func (s *domainRegistry) SetCatchAll(ctx context.Context, userID, hostname string, enabled bool, mailboxID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.SetCatchAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return err
	}
	if enabled && mailboxID == "" {
		return er.ErrMailboxRequired
	}
	if !enabled {
		mailboxID = ""
	}
	return s.postgres.CustomDomainRepository.SetCatchAll(ctx, record.ID, enabled, mailboxID)
}
