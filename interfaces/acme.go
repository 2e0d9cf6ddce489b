package interfaces

import "context"

// CertificateProvisioner drives ACME issuance for a single domain:
// challenge request, challenge persistence, validation, certificate storage.
// Renew skips the ownership re-verification gate since the domain already
// serves traffic.
type CertificateProvisioner interface {
	Provision(ctx context.Context, domainID string) error
	Renew(ctx context.Context, domainID string) error
}
