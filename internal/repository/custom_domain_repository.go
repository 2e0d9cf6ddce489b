package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/elektrine/domainstack/internal/enum"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/models"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

type CustomDomainRepository interface {
	Create(ctx context.Context, domain *models.CustomDomain) error
	GetByID(ctx context.Context, id string) (*models.CustomDomain, error)
	GetByDomain(ctx context.Context, domain string) (*models.CustomDomain, error)
	GetByChallengeToken(ctx context.Context, token string) (*models.CustomDomain, error)
	GetByUser(ctx context.Context, userID string) ([]models.CustomDomain, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
	GetAllIssued(ctx context.Context) ([]models.CustomDomain, error)
	GetExpiring(ctx context.Context, before time.Time) ([]models.CustomDomain, error)
	GetAllEmailEnabled(ctx context.Context) ([]models.CustomDomain, error)
	MarkVerified(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id, message string) error
	BeginProvisioning(ctx context.Context, id string) error
	SetChallenge(ctx context.Context, id, token, response string) error
	ClearChallenge(ctx context.Context, id string) error
	StoreCertificate(ctx context.Context, id string, certificate, privateKey []byte, issuedAt, expiresAt time.Time) error
	MarkSSLFailed(ctx context.Context, id, message string) error
	SetEmailDNSFlags(ctx context.Context, id string, mx, spf, dkim, dmarc bool) error
	EnableEmail(ctx context.Context, id, dkimSelector, dkimPublicKey string, dkimPrivateKey []byte) error
	DisableEmail(ctx context.Context, id string) error
	SetCatchAll(ctx context.Context, id string, enabled bool, mailboxID string) error
	Delete(ctx context.Context, id string) error
}

type customDomainRepository struct {
	db *gorm.DB
}

func NewCustomDomainRepository(db *gorm.DB) CustomDomainRepository {
	return &customDomainRepository{db: db}
}

func (r *customDomainRepository) Create(ctx context.Context, domain *models.CustomDomain) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain.Domain)

	now := utils.Now()
	domain.CreatedAt = now
	domain.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(domain).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) GetByID(ctx context.Context, id string) (*models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var domain models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&domain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &domain, nil
}

func (r *customDomainRepository) GetByDomain(ctx context.Context, domain string) (*models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetByDomain")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("domain", domain)

	var record models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("domain = ?", domain).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.LogFields(tracingLog.Bool("response.found", false))
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &record, nil
}

func (r *customDomainRepository) GetByChallengeToken(ctx context.Context, token string) (*models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetByChallengeToken")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var record models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("acme_challenge_token = ?", token).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return &record, nil
}

func (r *customDomainRepository) GetByUser(ctx context.Context, userID string) ([]models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagUserId(span, userID)

	var domains []models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return domains, nil
}

func (r *customDomainRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.CountByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagUserId(span, userID)

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return 0, err
	}
	return count, nil
}

func (r *customDomainRepository) GetAllIssued(ctx context.Context) ([]models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetAllIssued")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var domains []models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("status = ?", enum.DomainStatusActive).
		Where("ssl_status = ?", enum.SSLStatusIssued).
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return domains, nil
}

func (r *customDomainRepository) GetExpiring(ctx context.Context, before time.Time) ([]models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetExpiring")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.LogKV("before", before)

	var domains []models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("status = ?", enum.DomainStatusActive).
		Where("ssl_status = ?", enum.SSLStatusIssued).
		Where("certificate_expires_at < ?", before).
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return domains, nil
}

func (r *customDomainRepository) GetAllEmailEnabled(ctx context.Context) ([]models.CustomDomain, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.GetAllEmailEnabled")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var domains []models.CustomDomain
	err := r.db.WithContext(ctx).
		Where("email_enabled = ?", true).
		Find(&domains).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return nil, err
	}
	return domains, nil
}

func (r *customDomainRepository) MarkVerified(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.MarkVerified")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ? AND status = ?", id, enum.DomainStatusPending).
		Updates(map[string]interface{}{
			"status":      enum.DomainStatusVerified,
			"verified_at": utils.Now(),
			"last_error":  "",
			"updated_at":  utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Row gone or already past pending; verify is idempotent on re-runs.
		span.LogFields(tracingLog.Bool("result.updated", false))
	}
	return nil
}

func (r *customDomainRepository) RecordFailure(ctx context.Context, id, message string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.RecordFailure")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error":  message,
			"error_count": gorm.Expr("error_count + 1"),
			"updated_at":  utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) BeginProvisioning(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.BeginProvisioning")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	// A failed attempt stays at provisioning_ssl/failed; the owner retries
	// from there without re-verifying ownership.
	result := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ? AND (status = ? OR (status = ? AND ssl_status = ?))",
			id, enum.DomainStatusVerified, enum.DomainStatusProvisioningSSL, enum.SSLStatusFailed).
		Updates(map[string]interface{}{
			"status":     enum.DomainStatusProvisioningSSL,
			"ssl_status": enum.SSLStatusProvisioning,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return result.Error
	}
	if result.RowsAffected == 0 {
		tracing.TraceErr(span, er.ErrInvalidTransition)
		return er.ErrInvalidTransition
	}
	return nil
}

func (r *customDomainRepository) SetChallenge(ctx context.Context, id, token, response string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.SetChallenge")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		UpdateColumn("acme_challenge_token", token).
		UpdateColumn("acme_challenge_response", response).
		UpdateColumn("updated_at", utils.Now()).
		Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) ClearChallenge(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.ClearChallenge")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		UpdateColumn("acme_challenge_token", "").
		UpdateColumn("acme_challenge_response", "").
		UpdateColumn("updated_at", utils.Now()).
		Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

// StoreCertificate persists issued certificate material. The status
// precondition makes a provisioning job racing a delete a no-op: when the
// row is gone or back in an earlier state, no rows match and
// ErrInvalidTransition is returned instead of resurrecting certificate state.
func (r *customDomainRepository) StoreCertificate(ctx context.Context, id string, certificate, privateKey []byte, issuedAt, expiresAt time.Time) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.StoreCertificate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ? AND status IN ?", id, []enum.DomainStatus{enum.DomainStatusProvisioningSSL, enum.DomainStatusActive}).
		Updates(map[string]interface{}{
			"status":                  enum.DomainStatusActive,
			"ssl_status":              enum.SSLStatusIssued,
			"certificate":             certificate,
			"private_key":             privateKey,
			"certificate_issued_at":   issuedAt,
			"certificate_expires_at":  expiresAt,
			"acme_challenge_token":    "",
			"acme_challenge_response": "",
			"last_error":              "",
			"error_count":             0,
			"updated_at":              utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, errors.Wrap(result.Error, "db error"))
		return result.Error
	}
	if result.RowsAffected == 0 {
		tracing.TraceErr(span, er.ErrInvalidTransition)
		return er.ErrInvalidTransition
	}
	return nil
}

// MarkSSLFailed records the failure and clears stale challenge material so a
// later retry never serves an outdated challenge response.
func (r *customDomainRepository) MarkSSLFailed(ctx context.Context, id, message string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.MarkSSLFailed")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ssl_status":              enum.SSLStatusFailed,
			"last_error":              message,
			"error_count":             gorm.Expr("error_count + 1"),
			"acme_challenge_token":    "",
			"acme_challenge_response": "",
			"updated_at":              utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) SetEmailDNSFlags(ctx context.Context, id string, mx, spf, dkim, dmarc bool) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.SetEmailDNSFlags")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		UpdateColumn("mx_verified", mx).
		UpdateColumn("spf_verified", spf).
		UpdateColumn("dkim_verified", dkim).
		UpdateColumn("dmarc_verified", dmarc).
		UpdateColumn("updated_at", utils.Now()).
		Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) EnableEmail(ctx context.Context, id, dkimSelector, dkimPublicKey string, dkimPrivateKey []byte) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.EnableEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		UpdateColumn("email_enabled", true).
		UpdateColumn("dkim_selector", dkimSelector).
		UpdateColumn("dkim_public_key", dkimPublicKey).
		UpdateColumn("dkim_private_key", dkimPrivateKey).
		UpdateColumn("updated_at", utils.Now()).
		Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) DisableEmail(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.DisableEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"email_enabled":  false,
			"mx_verified":    false,
			"spf_verified":   false,
			"dkim_verified":  false,
			"dmarc_verified": false,
			"updated_at":     utils.Now(),
		}).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) SetCatchAll(ctx context.Context, id string, enabled bool, mailboxID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.SetCatchAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Model(&models.CustomDomain{}).
		Where("id = ?", id).
		UpdateColumn("catch_all_enabled", enabled).
		UpdateColumn("catch_all_mailbox_id", mailboxID).
		UpdateColumn("updated_at", utils.Now()).
		Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}

func (r *customDomainRepository) Delete(ctx context.Context, id string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "CustomDomainRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).
		Delete(&models.CustomDomain{}, "id = ?", id).Error
	if err != nil {
		tracing.TraceErr(span, errors.Wrap(err, "db error"))
		return err
	}
	return nil
}
