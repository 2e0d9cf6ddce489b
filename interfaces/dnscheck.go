package interfaces

import (
	"context"

	"github.com/elektrine/domainstack/internal/enum"
)

// OwnershipResult is the outcome of a domain-ownership TXT check.
type OwnershipResult struct {
	Status  enum.DNSCheckStatus `json:"status"`
	Detail  string              `json:"detail,omitempty"`
	Records []string            `json:"records,omitempty"`
}

// EmailDNSResult carries one outcome per email-auth record. Partial failure
// is reported per record so the operator knows which record to fix.
type EmailDNSResult struct {
	MX    enum.DNSCheckStatus `json:"mx"`
	SPF   enum.DNSCheckStatus `json:"spf"`
	DKIM  enum.DNSCheckStatus `json:"dkim"`
	DMARC enum.DNSCheckStatus `json:"dmarc"`
}

// AllOK reports whether every email-auth record checked out.
func (r EmailDNSResult) AllOK() bool {
	return r.MX.OK() && r.SPF.OK() && r.DKIM.OK() && r.DMARC.OK()
}

// RecordCheck is the outcome of a single advisory record lookup.
type RecordCheck struct {
	Status enum.DNSCheckStatus `json:"status"`
	Values []string            `json:"values,omitempty"`
}

// DNSVerifier validates the DNS records a custom domain owner must create.
// Each check is independent and composable; none mutates state.
type DNSVerifier interface {
	VerifyOwnership(ctx context.Context, domain, token string) OwnershipResult
	VerifyEmailDNS(ctx context.Context, domain, dkimSelector, dkimPublicKey string) EmailDNSResult
	CheckARecord(ctx context.Context, domain string) RecordCheck
}
