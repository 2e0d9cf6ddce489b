package interfaces

import "context"

// EmailRoutingTable resolves inbound addresses on custom domains to
// destination mailboxes and exposes DKIM signing material for outbound mail.
type EmailRoutingTable interface {
	// FindMailboxForEmail resolves local@domain case-insensitively, falling
	// back to the domain catch-all when no explicit address matches.
	FindMailboxForEmail(ctx context.Context, address string) (string, error)

	// DKIMPrivateKey returns the decrypted PEM signing key; only available
	// while email is enabled for the domain.
	DKIMPrivateKey(ctx context.Context, domain string) ([]byte, error)

	// EmailReady gates whether the mail pipeline accepts and signs mail for
	// the domain. Recomputed from live DNS, cached briefly.
	EmailReady(ctx context.Context, domain string) (bool, error)
}
