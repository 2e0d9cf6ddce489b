package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/utils"
)

type InMemoryCustomDomainAddressRepository struct {
	mu        sync.Mutex
	addresses map[string]*models.CustomDomainAddress
}

func NewInMemoryCustomDomainAddressRepository() *InMemoryCustomDomainAddressRepository {
	return &InMemoryCustomDomainAddressRepository{addresses: map[string]*models.CustomDomainAddress{}}
}

func (r *InMemoryCustomDomainAddressRepository) Create(_ context.Context, address *models.CustomDomainAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if address.ID == "" {
		address.ID = utils.GenerateNanoIDWithPrefix("addr", 16)
	}
	now := utils.Now()
	address.CreatedAt = now
	address.UpdatedAt = now

	copied := *address
	r.addresses[address.ID] = &copied
	return nil
}

func (r *InMemoryCustomDomainAddressRepository) GetByID(_ context.Context, id string) (*models.CustomDomainAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	address, ok := r.addresses[id]
	if !ok {
		return nil, nil
	}
	copied := *address
	return &copied, nil
}

func (r *InMemoryCustomDomainAddressRepository) GetByLocalPart(_ context.Context, customDomainID, localPart string) (*models.CustomDomainAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, address := range r.addresses {
		if address.CustomDomainID == customDomainID && address.LocalPart == localPart {
			copied := *address
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *InMemoryCustomDomainAddressRepository) GetByDomain(_ context.Context, customDomainID string) ([]models.CustomDomainAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.CustomDomainAddress
	for _, address := range r.addresses {
		if address.CustomDomainID == customDomainID {
			result = append(result, *address)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LocalPart < result[j].LocalPart })
	return result, nil
}

func (r *InMemoryCustomDomainAddressRepository) Update(_ context.Context, address *models.CustomDomainAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	address.UpdatedAt = utils.Now()
	copied := *address
	r.addresses[address.ID] = &copied
	return nil
}

func (r *InMemoryCustomDomainAddressRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addresses, id)
	return nil
}

func (r *InMemoryCustomDomainAddressRepository) DeleteByDomain(_ context.Context, customDomainID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, address := range r.addresses {
		if address.CustomDomainID == customDomainID {
			delete(r.addresses, id)
		}
	}
	return nil
}
