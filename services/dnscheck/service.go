package dnscheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/interfaces"
	"github.com/elektrine/domainstack/internal/enum"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

const (
	// OwnershipRecordPrefix is the label the verification TXT record hangs off.
	OwnershipRecordPrefix = "_elektrine"
	// OwnershipValuePrefix prefixes the token inside the TXT record value.
	OwnershipValuePrefix = "elektrine-verify="
)

type dnsVerifier struct {
	resolver  Resolver
	appCfg    *config.AppConfig
	domainCfg *config.DomainConfig
}

func NewDNSVerifier(resolver Resolver, appCfg *config.AppConfig, domainCfg *config.DomainConfig) interfaces.DNSVerifier {
	return &dnsVerifier{
		resolver:  resolver,
		appCfg:    appCfg,
		domainCfg: domainCfg,
	}
}

// OwnershipRecordName returns the fully qualified name of the verification
// TXT record for a domain.
func OwnershipRecordName(domain string) string {
	return OwnershipRecordPrefix + "." + utils.NormalizeDomain(domain)
}

// OwnershipRecordValue returns the TXT value the domain owner must publish.
func OwnershipRecordValue(token string) string {
	return OwnershipValuePrefix + token
}

func (v *dnsVerifier) VerifyOwnership(ctx context.Context, domain, token string) interfaces.OwnershipResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DNSVerifier.VerifyOwnership")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.SpanTagDomain, domain)

	records, err := v.resolver.LookupTXT(ctx, OwnershipRecordName(domain))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return interfaces.OwnershipResult{
				Status: enum.DNSCheckNoRecord,
				Detail: fmt.Sprintf("no TXT record found at %s", OwnershipRecordName(domain)),
			}
		}
		tracing.TraceErr(span, err)
		return interfaces.OwnershipResult{
			Status: enum.DNSCheckError,
			Detail: err.Error(),
		}
	}

	expected := OwnershipRecordValue(token)
	for _, record := range records {
		if strings.TrimSpace(record) == expected {
			return interfaces.OwnershipResult{Status: enum.DNSCheckOK}
		}
	}

	return interfaces.OwnershipResult{
		Status:  enum.DNSCheckTokenMismatch,
		Detail:  "TXT record found but the verification token does not match",
		Records: records,
	}
}

func (v *dnsVerifier) VerifyEmailDNS(ctx context.Context, domain, dkimSelector, dkimPublicKey string) interfaces.EmailDNSResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DNSVerifier.VerifyEmailDNS")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.SpanTagDomain, domain)

	domain = utils.NormalizeDomain(domain)

	result := interfaces.EmailDNSResult{
		MX:    v.checkMX(ctx, domain),
		SPF:   v.checkSPF(ctx, domain),
		DKIM:  v.checkDKIM(ctx, domain, dkimSelector, dkimPublicKey),
		DMARC: v.checkDMARC(ctx, domain),
	}
	span.LogKV("result.mx", result.MX, "result.spf", result.SPF, "result.dkim", result.DKIM, "result.dmarc", result.DMARC)
	return result
}

func (v *dnsVerifier) checkMX(ctx context.Context, domain string) enum.DNSCheckStatus {
	mxs, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return enum.DNSCheckNoMX
		}
		return enum.DNSCheckError
	}

	want := utils.NormalizeDomain(v.domainCfg.MailHost)
	for _, mx := range mxs {
		if utils.NormalizeDomain(mx.Host) == want {
			return enum.DNSCheckOK
		}
	}
	return enum.DNSCheckWrongMX
}

func (v *dnsVerifier) checkSPF(ctx context.Context, domain string) enum.DNSCheckStatus {
	records, err := v.resolver.LookupTXT(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return enum.DNSCheckNoSPF
		}
		return enum.DNSCheckError
	}

	include := "include:" + v.domainCfg.SPFInclude
	for _, record := range records {
		record = strings.TrimSpace(record)
		if !strings.HasPrefix(record, "v=spf1") {
			continue
		}
		if strings.Contains(record, include) {
			return enum.DNSCheckOK
		}
		return enum.DNSCheckMissingInclude
	}
	return enum.DNSCheckNoSPF
}

func (v *dnsVerifier) checkDKIM(ctx context.Context, domain, selector, publicKey string) enum.DNSCheckStatus {
	if selector == "" {
		selector = v.domainCfg.DkimSelector
	}

	records, err := v.resolver.LookupTXT(ctx, selector+"._domainkey."+domain)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return enum.DNSCheckNoDKIM
		}
		return enum.DNSCheckError
	}

	for _, record := range records {
		published := dkimKeyFromRecord(record)
		if published == "" {
			continue
		}
		if publicKey == "" || published == stripWhitespace(publicKey) {
			return enum.DNSCheckOK
		}
	}
	return enum.DNSCheckWrongKey
}

func (v *dnsVerifier) checkDMARC(ctx context.Context, domain string) enum.DNSCheckStatus {
	records, err := v.resolver.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return enum.DNSCheckNoDMARC
		}
		return enum.DNSCheckError
	}

	for _, record := range records {
		if strings.HasPrefix(strings.TrimSpace(record), "v=DMARC1") {
			return enum.DNSCheckOK
		}
	}
	return enum.DNSCheckNoDMARC
}

func (v *dnsVerifier) CheckARecord(ctx context.Context, domain string) interfaces.RecordCheck {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DNSVerifier.CheckARecord")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.SpanTagDomain, domain)

	ips, err := v.resolver.LookupA(ctx, utils.NormalizeDomain(domain))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return interfaces.RecordCheck{Status: enum.DNSCheckNoRecord}
		}
		tracing.TraceErr(span, err)
		return interfaces.RecordCheck{Status: enum.DNSCheckError}
	}

	values := make([]string, 0, len(ips))
	status := enum.DNSCheckWrongValue
	for _, ip := range ips {
		values = append(values, ip.String())
		if ip.String() == v.appCfg.PublicIP {
			status = enum.DNSCheckOK
		}
	}
	return interfaces.RecordCheck{Status: status, Values: values}
}

// dkimKeyFromRecord extracts the p= tag value from a DKIM TXT record.
func dkimKeyFromRecord(record string) string {
	for _, part := range strings.Split(record, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "p=") {
			return stripWhitespace(strings.TrimPrefix(part, "p="))
		}
	}
	return ""
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}
