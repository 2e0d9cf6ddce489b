package interfaces

import (
	"context"
	"time"

	"github.com/elektrine/domainstack/internal/models"
)

// ExpectedDNSRecords lists the records a domain owner must create, rendered
// with the concrete values for their domain.
type ExpectedDNSRecords struct {
	VerificationHost  string `json:"verificationHost"`
	VerificationValue string `json:"verificationValue"`
	ApexA             string `json:"apexA"`
	MX                string `json:"mx"`
	SPF               string `json:"spf"`
	DKIMHost          string `json:"dkimHost,omitempty"`
	DKIMValue         string `json:"dkimValue,omitempty"`
	DMARC             string `json:"dmarc"`
}

// DomainRegistry owns the CustomDomain and CustomDomainAddress entities and
// their state machines. All status mutations go through here, never through
// handlers directly.
type DomainRegistry interface {
	Add(ctx context.Context, userID, hostname string) (*models.CustomDomain, error)
	Get(ctx context.Context, userID, hostname string) (*models.CustomDomain, error)
	List(ctx context.Context, userID string) ([]models.CustomDomain, error)
	Delete(ctx context.Context, userID, hostname string) error

	// Verify resolves the ownership TXT record and transitions
	// pending -> verified on an exact token match.
	Verify(ctx context.Context, userID, hostname string) (OwnershipResult, error)

	// ProvisionSSL transitions verified -> provisioning_ssl and hands off to
	// the certificate provisioner through the job queue (inline when the job
	// queue runs in synchronous mode).
	ProvisionSSL(ctx context.Context, userID, hostname string) error

	// StoreCertificate encrypts and persists issued material, then updates
	// the certificate cache before returning. Called by the provisioner.
	StoreCertificate(ctx context.Context, hostname string, certificatePEM, privateKeyPEM []byte, issuedAt, expiresAt time.Time) error

	// MarkSSLFailed records a provisioning failure and clears challenge state.
	MarkSSLFailed(ctx context.Context, hostname string, cause error) error

	// PersistChallenge and ClearChallenge store/remove the HTTP-01 material
	// served at /.well-known/acme-challenge/<token>.
	PersistChallenge(ctx context.Context, hostname, token, keyAuth string) error
	ClearChallenge(ctx context.Context, hostname string) error
	ChallengeResponse(ctx context.Context, token string) (string, error)

	ExpectedRecords(ctx context.Context, userID, hostname string) (*ExpectedDNSRecords, error)
	RefreshEmailDNS(ctx context.Context, hostname string) (EmailDNSResult, error)
	EnableEmail(ctx context.Context, userID, hostname string) (*models.CustomDomain, error)
	DisableEmail(ctx context.Context, userID, hostname string) error
	SetCatchAll(ctx context.Context, userID, hostname string, enabled bool, mailboxID string) error

	AddAddress(ctx context.Context, userID, hostname, localPart, mailboxID, description string) (*models.CustomDomainAddress, error)
	ListAddresses(ctx context.Context, userID, hostname string) ([]models.CustomDomainAddress, error)
	UpdateAddress(ctx context.Context, userID, hostname, addressID string, enabled bool, mailboxID, description string) (*models.CustomDomainAddress, error)
	RemoveAddress(ctx context.Context, userID, hostname, addressID string) error
}
