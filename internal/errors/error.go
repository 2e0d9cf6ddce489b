package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrUserIdMissing       = errors.New("user id is missing")
	ErrInvalidEmailAddress = errors.New("invalid email address")

	// domain errors
	ErrInvalidDomainName  = errors.New("invalid domain name")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrDomainExists       = errors.New("domain already registered")
	ErrDomainLimitReached = errors.New("domain limit reached")
	ErrInvalidTransition  = errors.New("invalid domain status transition")
	ErrNotOwner           = errors.New("domain belongs to another user")

	// ssl errors
	ErrChallengeNotFound     = errors.New("acme challenge not found")
	ErrProvisioningInFlight  = errors.New("provisioning already in flight for domain")
	ErrCertificateNotFound   = errors.New("certificate not found")
	ErrSslProvisioningFailed = errors.New("ssl provisioning failed")

	// secret errors
	ErrDecryptionFailed = errors.New("decryption failed")

	// email errors
	ErrAddressNotFound = errors.New("address not found")
	ErrAddressExists   = errors.New("address already exists for domain")
	ErrMailboxRequired = errors.New("mailbox id is required")
	ErrEmailNotEnabled = errors.New("email is not enabled for domain")
	ErrNoDkimKey       = errors.New("no dkim key for domain")
)
