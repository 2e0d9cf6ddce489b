package acme

import (
	"context"
	"crypto"

	"github.com/go-acme/lego/v4/registration"

	"github.com/elektrine/domainstack/interfaces"
)

// accountUser satisfies lego's registration.User with an ephemeral account
// key. Accounts are disposable; Let's Encrypt rate limits apply per domain,
// not per account.
type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string                        { return u.email }
func (u *accountUser) GetRegistration() *registration.Resource { return u.registration }
func (u *accountUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// registryChallengeProvider persists HTTP-01 material through the domain
// registry so any edge node can answer /.well-known/acme-challenge lookups
// from postgres. lego's challenge.Provider interface carries no context.
type registryChallengeProvider struct {
	registry interfaces.DomainRegistry
}

func (p *registryChallengeProvider) Present(domain, token, keyAuth string) error {
	return p.registry.PersistChallenge(context.Background(), domain, token, keyAuth)
}

func (p *registryChallengeProvider) CleanUp(domain, token, _ string) error {
	return p.registry.ClearChallenge(context.Background(), domain)
}
