package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/elektrine/domainstack/internal/utils"
)

// CustomDomainAddress maps local@domain to a destination mailbox.
// Addresses live independently of the domain's SSL lifecycle.
type CustomDomainAddress struct {
	ID             string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	CustomDomainID string `gorm:"column:custom_domain_id;type:varchar(50);not null;uniqueIndex:idx_domain_local_part" json:"customDomainId"`
	LocalPart      string `gorm:"column:local_part;type:varchar(255);not null;uniqueIndex:idx_domain_local_part" json:"localPart"`
	MailboxID      string `gorm:"column:mailbox_id;type:varchar(50);not null" json:"mailboxId"`
	Enabled        bool   `gorm:"column:enabled;not null;default:true" json:"enabled"`
	Description    string `gorm:"column:description;type:text" json:"description"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (CustomDomainAddress) TableName() string {
	return "custom_domain_addresses"
}

func (a *CustomDomainAddress) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("addr", 16)
	}
	return nil
}
