package handlers

import "github.com/elektrine/domainstack/interfaces"

type APIHandlers struct {
	Domains   *DomainsHandler
	Addresses *AddressesHandler
	Acme      *AcmeHandler
}

func InitHandlers(registry interfaces.DomainRegistry) *APIHandlers {
	return &APIHandlers{
		Domains:   NewDomainsHandler(registry),
		Addresses: NewAddressesHandler(registry),
		Acme:      NewAcmeHandler(registry),
	}
}
