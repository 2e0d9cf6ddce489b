package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/internal/models"
)

type Repositories struct {
	CustomDomainRepository        CustomDomainRepository
	CustomDomainAddressRepository CustomDomainAddressRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		CustomDomainRepository:        NewCustomDomainRepository(db),
		CustomDomainAddressRepository: NewCustomDomainAddressRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.CustomDomain{},
		&models.CustomDomainAddress{},
	)

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
