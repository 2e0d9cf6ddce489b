package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/elektrine/domainstack/internal/enum"
	"github.com/elektrine/domainstack/internal/utils"
)

// CustomDomain is an externally-owned hostname pointed at a hosted profile.
// Certificate, private key and DKIM private key are AEAD-encrypted blobs;
// plaintext key material is never persisted.
type CustomDomain struct {
	ID     string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(50);index;not null" json:"userId"`
	Domain string `gorm:"column:domain;type:varchar(255);not null;uniqueIndex" json:"domain"`

	Status            enum.DomainStatus `gorm:"column:status;type:varchar(50);index;not null;default:'pending'" json:"status"`
	VerificationToken string            `gorm:"column:verification_token;type:varchar(64);not null" json:"verificationToken"`
	VerifiedAt        *time.Time        `gorm:"column:verified_at;type:timestamp" json:"verifiedAt"`

	SSLStatus            enum.SSLStatus `gorm:"column:ssl_status;type:varchar(50);not null;default:'none'" json:"sslStatus"`
	Certificate          []byte         `gorm:"column:certificate;type:bytea" json:"-"`
	PrivateKey           []byte         `gorm:"column:private_key;type:bytea" json:"-"`
	CertificateIssuedAt  *time.Time     `gorm:"column:certificate_issued_at;type:timestamp" json:"certificateIssuedAt"`
	CertificateExpiresAt *time.Time     `gorm:"column:certificate_expires_at;type:timestamp;index" json:"certificateExpiresAt"`

	// Transient challenge material, cleared on every terminal provisioning state.
	AcmeChallengeToken    string `gorm:"column:acme_challenge_token;type:varchar(255)" json:"-"`
	AcmeChallengeResponse string `gorm:"column:acme_challenge_response;type:text" json:"-"`

	LastError  string `gorm:"column:last_error;type:text" json:"lastError"`
	ErrorCount int    `gorm:"column:error_count;not null;default:0" json:"errorCount"`

	EmailEnabled      bool   `gorm:"column:email_enabled;not null;default:false" json:"emailEnabled"`
	DkimSelector      string `gorm:"column:dkim_selector;type:varchar(63)" json:"dkimSelector"`
	DkimPublicKey     string `gorm:"column:dkim_public_key;type:text" json:"dkimPublicKey"`
	DkimPrivateKey    []byte `gorm:"column:dkim_private_key;type:bytea" json:"-"`
	MXVerified        bool   `gorm:"column:mx_verified;not null;default:false" json:"mxVerified"`
	SPFVerified       bool   `gorm:"column:spf_verified;not null;default:false" json:"spfVerified"`
	DKIMVerified      bool   `gorm:"column:dkim_verified;not null;default:false" json:"dkimVerified"`
	DMARCVerified     bool   `gorm:"column:dmarc_verified;not null;default:false" json:"dmarcVerified"`
	CatchAllEnabled   bool   `gorm:"column:catch_all_enabled;not null;default:false" json:"catchAllEnabled"`
	CatchAllMailboxID string `gorm:"column:catch_all_mailbox_id;type:varchar(50)" json:"catchAllMailboxId"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (CustomDomain) TableName() string {
	return "custom_domains"
}

func (d *CustomDomain) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.GenerateNanoIDWithPrefix("cdom", 16)
	}
	return nil
}

// HasIssuedCertificate reports whether the row carries a servable certificate.
func (d *CustomDomain) HasIssuedCertificate() bool {
	return d.SSLStatus == enum.SSLStatusIssued &&
		len(d.Certificate) > 0 &&
		len(d.PrivateKey) > 0 &&
		d.CertificateExpiresAt != nil
}
