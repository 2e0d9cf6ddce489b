package domain

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/tracing"
)

func validLocalPart(localPart string) bool {
	if localPart == "" || len(localPart) > 64 {
		return false
	}
	return !strings.ContainsAny(localPart, "@ \t\r\n")
}

func (s *domainRegistry) AddAddress(ctx context.Context, userID, hostname, localPart, mailboxID, description string) (*models.CustomDomainAddress, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.AddAddress")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return nil, err
	}

	localPart = strings.ToLower(strings.TrimSpace(localPart))
	if !validLocalPart(localPart) {
		return nil, er.ErrInvalidEmailAddress
	}
	if mailboxID == "" {
		return nil, er.ErrMailboxRequired
	}

	existing, err := s.postgres.CustomDomainAddressRepository.GetByLocalPart(ctx, record.ID, localPart)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if existing != nil {
		return nil, er.ErrAddressExists
	}

	address := &models.CustomDomainAddress{
		CustomDomainID: record.ID,
		LocalPart:      localPart,
		MailboxID:      mailboxID,
		Enabled:        true,
		Description:    description,
	}
	if err := s.postgres.CustomDomainAddressRepository.Create(ctx, address); err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "error creating address"))
		return nil, err
	}
	return address, nil
}

func (s *domainRegistry) ListAddresses(ctx context.Context, userID, hostname string) ([]models.CustomDomainAddress, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.ListAddresses")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return nil, err
	}
	return s.postgres.CustomDomainAddressRepository.GetByDomain(ctx, record.ID)
}

// getOwnedAddress loads an address and checks it belongs to the given domain.
func (s *domainRegistry) getOwnedAddress(ctx context.Context, domainID, addressID string) (*models.CustomDomainAddress, error) {
	address, err := s.postgres.CustomDomainAddressRepository.GetByID(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if address == nil || address.CustomDomainID != domainID {
		return nil, er.ErrAddressNotFound
	}
	return address, nil
}

func (s *domainRegistry) UpdateAddress(ctx context.Context, userID, hostname, addressID string, enabled bool, mailboxID, description string) (*models.CustomDomainAddress, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.UpdateAddress")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)
	tracing.TagEntity(span, addressID)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return nil, err
	}
	address, err := s.getOwnedAddress(ctx, record.ID, addressID)
	if err != nil {
		return nil, err
	}

	address.Enabled = enabled
	if mailboxID != "" {
		address.MailboxID = mailboxID
	}
	address.Description = description

	if err := s.postgres.CustomDomainAddressRepository.Update(ctx, address); err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "error updating address"))
		return nil, err
	}
	return address, nil
}

func (s *domainRegistry) RemoveAddress(ctx context.Context, userID, hostname, addressID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DomainRegistry.RemoveAddress")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagDomain(span, hostname)
	tracing.TagEntity(span, addressID)

	record, err := s.getOwned(ctx, userID, hostname)
	if err != nil {
		return err
	}
	if _, err := s.getOwnedAddress(ctx, record.ID, addressID); err != nil {
		return err
	}
	return s.postgres.CustomDomainAddressRepository.Delete(ctx, addressID)
}
