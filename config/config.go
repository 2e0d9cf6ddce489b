package config

type AppConfig struct {
	APIPort string `env:"PORT" envDefault:"12333"`
	APIKey  string `env:"API_KEY,required"`
	// Public IPv4 of the edge that custom domains must point their apex A record at.
	PublicIP    string `env:"PUBLIC_IP,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST,required"`
	Port            string `env:"POSTGRES_PORT,required"`
	User            string `env:"POSTGRES_USER,required"`
	DBName          string `env:"POSTGRES_DB_NAME,required"`
	Password        string `env:"POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN" envDefault:"20"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE" envDefault:"require"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type EncryptionConfig struct {
	// Master secret for at-rest encryption of certificates and DKIM keys.
	MasterSecret string `env:"ENCRYPTION_MASTER_SECRET,required"`
}

type DomainConfig struct {
	// Max custom domains a single user may register.
	MaxDomainsPerUser int `env:"MAX_DOMAINS_PER_USER" envDefault:"1"`
	// Hostname custom-domain MX records must point at.
	MailHost string `env:"MAIL_HOST" envDefault:"mail.elektrine.com"`
	// SPF include custom domains must carry.
	SPFInclude string `env:"SPF_INCLUDE" envDefault:"_spf.elektrine.com"`
	// Default DKIM selector for newly enabled domains.
	DkimSelector string `env:"DKIM_SELECTOR" envDefault:"elektrine"`
}

type DNSConfig struct {
	Nameservers    []string `env:"DNS_NAMESERVERS" envSeparator:","`
	TimeoutSeconds int      `env:"DNS_TIMEOUT_SECONDS" envDefault:"5"`
}

type AcmeConfig struct {
	// Disabled switches issuance to self-signed certificates (dev/test).
	Disabled       bool   `env:"ACME_DISABLED" envDefault:"false"`
	DirectoryURL   string `env:"ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	AccountEmail   string `env:"ACME_ACCOUNT_EMAIL"`
	TimeoutSeconds int    `env:"ACME_TIMEOUT_SECONDS" envDefault:"90"`
}

type RenewalConfig struct {
	ThresholdDays int `env:"RENEWAL_THRESHOLD_DAYS" envDefault:"30"`
}
