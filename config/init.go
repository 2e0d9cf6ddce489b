package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/tracing"
)

type Config struct {
	AppConfig        *AppConfig
	Logger           *logger.Config
	Tracing          *tracing.JaegerConfig
	DatabaseConfig   *DatabaseConfig
	RedisConfig      *RedisConfig
	EncryptionConfig *EncryptionConfig
	DomainConfig     *DomainConfig
	DNSConfig        *DNSConfig
	AcmeConfig       *AcmeConfig
	RenewalConfig    *RenewalConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:        &AppConfig{},
		Logger:           &logger.Config{},
		Tracing:          &tracing.JaegerConfig{},
		DatabaseConfig:   &DatabaseConfig{},
		RedisConfig:      &RedisConfig{},
		EncryptionConfig: &EncryptionConfig{},
		DomainConfig:     &DomainConfig{},
		DNSConfig:        &DNSConfig{},
		AcmeConfig:       &AcmeConfig{},
		RenewalConfig:    &RenewalConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading domainstack config: %v", err)
	}

	return config, nil
}
