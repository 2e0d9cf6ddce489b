package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Certificate renewal scan, daily at 03:15
	CronScheduleCertificateRenewal string `env:"CRON_SCHEDULE_CERTIFICATE_RENEWAL" envDefault:"0 15 3 * * *"`
	// Email DNS recheck for email-enabled domains, hourly
	CronScheduleEmailDNSRecheck string `env:"CRON_SCHEDULE_EMAIL_DNS_RECHECK" envDefault:"0 30 * * * *"`
}
