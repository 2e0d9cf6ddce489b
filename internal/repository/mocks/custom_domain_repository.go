// Package mocks provides in-memory repository implementations for tests.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/utils"
)

// InMemoryCustomDomainRepository mirrors the postgres repository semantics,
// including the optimistic status preconditions, against a map.
type InMemoryCustomDomainRepository struct {
	mu      sync.Mutex
	domains map[string]*models.CustomDomain
}

func NewInMemoryCustomDomainRepository() *InMemoryCustomDomainRepository {
	return &InMemoryCustomDomainRepository{domains: map[string]*models.CustomDomain{}}
}

// Seed inserts a domain without Create side effects. Test setup only.
func (r *InMemoryCustomDomainRepository) Seed(domain *models.CustomDomain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if domain.ID == "" {
		domain.ID = utils.GenerateNanoIDWithPrefix("cdom", 16)
	}
	copied := *domain
	r.domains[domain.ID] = &copied
}

func (r *InMemoryCustomDomainRepository) Create(_ context.Context, domain *models.CustomDomain) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if domain.ID == "" {
		domain.ID = utils.GenerateNanoIDWithPrefix("cdom", 16)
	}
	now := utils.Now()
	domain.CreatedAt = now
	domain.UpdatedAt = now

	copied := *domain
	r.domains[domain.ID] = &copied
	return nil
}

func (r *InMemoryCustomDomainRepository) GetByID(_ context.Context, id string) (*models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil, nil
	}
	copied := *domain
	return &copied, nil
}

func (r *InMemoryCustomDomainRepository) GetByDomain(_ context.Context, hostname string) (*models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, domain := range r.domains {
		if domain.Domain == hostname {
			copied := *domain
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryCustomDomainRepository) GetByChallengeToken(_ context.Context, token string) (*models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, domain := range r.domains {
		if domain.AcmeChallengeToken != "" && domain.AcmeChallengeToken == token {
			copied := *domain
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryCustomDomainRepository) GetByUser(_ context.Context, userID string) ([]models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.CustomDomain
	for _, domain := range r.domains {
		if domain.UserID == userID {
			result = append(result, *domain)
		}
	}
	return result, nil
}

func (r *InMemoryCustomDomainRepository) CountByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, domain := range r.domains {
		if domain.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryCustomDomainRepository) GetAllIssued(_ context.Context) ([]models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.CustomDomain
	for _, domain := range r.domains {
		if domain.Status == enum.DomainStatusActive && domain.SSLStatus == enum.SSLStatusIssued {
			result = append(result, *domain)
		}
	}
	return result, nil
}

func (r *InMemoryCustomDomainRepository) GetExpiring(_ context.Context, before time.Time) ([]models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.CustomDomain
	for _, domain := range r.domains {
		if domain.Status == enum.DomainStatusActive &&
			domain.SSLStatus == enum.SSLStatusIssued &&
			domain.CertificateExpiresAt != nil &&
			domain.CertificateExpiresAt.Before(before) {
			result = append(result, *domain)
		}
	}
	return result, nil
}

func (r *InMemoryCustomDomainRepository) GetAllEmailEnabled(_ context.Context) ([]models.CustomDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.CustomDomain
	for _, domain := range r.domains {
		if domain.EmailEnabled {
			result = append(result, *domain)
		}
	}
	return result, nil
}

func (r *InMemoryCustomDomainRepository) MarkVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok || domain.Status != enum.DomainStatusPending {
		return nil
	}
	domain.Status = enum.DomainStatusVerified
	domain.VerifiedAt = utils.NowPtr()
	domain.LastError = ""
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) RecordFailure(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.LastError = message
	domain.ErrorCount++
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) BeginProvisioning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return er.ErrInvalidTransition
	}
	retryable := domain.Status == enum.DomainStatusProvisioningSSL && domain.SSLStatus == enum.SSLStatusFailed
	if domain.Status != enum.DomainStatusVerified && !retryable {
		return er.ErrInvalidTransition
	}
	domain.Status = enum.DomainStatusProvisioningSSL
	domain.SSLStatus = enum.SSLStatusProvisioning
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) SetChallenge(_ context.Context, id, token, response string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.AcmeChallengeToken = token
	domain.AcmeChallengeResponse = response
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) ClearChallenge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.AcmeChallengeToken = ""
	domain.AcmeChallengeResponse = ""
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) StoreCertificate(_ context.Context, id string, certificate, privateKey []byte, issuedAt, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok || (domain.Status != enum.DomainStatusProvisioningSSL && domain.Status != enum.DomainStatusActive) {
		return er.ErrInvalidTransition
	}
	domain.Status = enum.DomainStatusActive
	domain.SSLStatus = enum.SSLStatusIssued
	domain.Certificate = certificate
	domain.PrivateKey = privateKey
	domain.CertificateIssuedAt = &issuedAt
	domain.CertificateExpiresAt = &expiresAt
	domain.AcmeChallengeToken = ""
	domain.AcmeChallengeResponse = ""
	domain.LastError = ""
	domain.ErrorCount = 0
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) MarkSSLFailed(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.SSLStatus = enum.SSLStatusFailed
	domain.LastError = message
	domain.ErrorCount++
	domain.AcmeChallengeToken = ""
	domain.AcmeChallengeResponse = ""
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) SetEmailDNSFlags(_ context.Context, id string, mx, spf, dkim, dmarc bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.MXVerified = mx
	domain.SPFVerified = spf
	domain.DKIMVerified = dkim
	domain.DMARCVerified = dmarc
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) EnableEmail(_ context.Context, id, dkimSelector, dkimPublicKey string, dkimPrivateKey []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.EmailEnabled = true
	domain.DkimSelector = dkimSelector
	domain.DkimPublicKey = dkimPublicKey
	domain.DkimPrivateKey = dkimPrivateKey
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) DisableEmail(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.EmailEnabled = false
	domain.MXVerified = false
	domain.SPFVerified = false
	domain.DKIMVerified = false
	domain.DMARCVerified = false
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) SetCatchAll(_ context.Context, id string, enabled bool, mailboxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain, ok := r.domains[id]
	if !ok {
		return nil
	}
	domain.CatchAllEnabled = enabled
	domain.CatchAllMailboxID = mailboxID
	domain.UpdatedAt = utils.Now()
	return nil
}

func (r *InMemoryCustomDomainRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.domains, id)
	return nil
}
