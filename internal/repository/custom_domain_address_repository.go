package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

type CustomDomainAddressRepository interface {
	Create(ctx context.Context, address *models.CustomDomainAddress) error
	GetByID(ctx context.Context, id string) (*models.CustomDomainAddress, error)
	GetByLocalPart(ctx context.Context, customDomainID, localPart string) (*models.CustomDomainAddress, error)
	GetByDomain(ctx context.Context, customDomainID string) ([]models.CustomDomainAddress, error)
	Update(ctx context.Context, address *models.CustomDomainAddress) error
	Delete(ctx context.Context, id string) error
	DeleteByDomain(ctx context.Context, customDomainID string) error
}

type customDomainAddressRepository struct {
	db *gorm.DB
}

func NewCustomDomainAddressRepository(db *gorm.DB) CustomDomainAddressRepository {
	return &customDomainAddressRepository{db: db}
}

func (r *customDomainAddressRepository) Create(ctx context.Context, address *models.CustomDomainAddress) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("localPart", address.LocalPart)

	now := utils.Now()
	address.CreatedAt = now
	address.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(address).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainAddressRepository) GetByID(ctx context.Context, id string) (*models.CustomDomainAddress, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var address models.CustomDomainAddress
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&address).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &address, nil
}

func (r *customDomainAddressRepository) GetByLocalPart(ctx context.Context, customDomainID, localPart string) (*models.CustomDomainAddress, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.GetByLocalPart")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("localPart", localPart)

	var address models.CustomDomainAddress
	err := r.db.WithContext(ctx).
		Where("custom_domain_id = ? AND local_part = ?", customDomainID, localPart).
		First(&address).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &address, nil
}

func (r *customDomainAddressRepository) GetByDomain(ctx context.Context, customDomainID string) ([]models.CustomDomainAddress, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.GetByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var addresses []models.CustomDomainAddress
	err := r.db.WithContext(ctx).
		Where("custom_domain_id = ?", customDomainID).
		Order("local_part asc").
		Find(&addresses).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return addresses, nil
}

func (r *customDomainAddressRepository) Update(ctx context.Context, address *models.CustomDomainAddress) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.Update")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, address.ID)

	address.UpdatedAt = utils.Now()

	err := r.db.WithContext(ctx).Save(address).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainAddressRepository) Delete(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Delete(&models.CustomDomainAddress{}, "id = ?", id).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainAddressRepository) DeleteByDomain(ctx context.Context, customDomainID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainAddressRepository.DeleteByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	err := r.db.WithContext(ctx).
		Delete(&models.CustomDomainAddress{}, "custom_domain_id = ?", customDomainID).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}
