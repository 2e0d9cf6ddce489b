package enum

type DomainStatus string

const (
	DomainStatusPending         DomainStatus = "pending"
	DomainStatusVerified        DomainStatus = "verified"
	DomainStatusProvisioningSSL DomainStatus = "provisioning_ssl"
	DomainStatusActive          DomainStatus = "active"
)

func (s DomainStatus) String() string {
	return string(s)
}

type SSLStatus string

const (
	SSLStatusNone         SSLStatus = "none"
	SSLStatusProvisioning SSLStatus = "provisioning"
	SSLStatusIssued       SSLStatus = "issued"
	SSLStatusFailed       SSLStatus = "failed"
)

func (s SSLStatus) String() string {
	return string(s)
}
