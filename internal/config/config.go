package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	SecretsMasterKey  string `env:"SECRETS_MASTER_KEY,required=true"`
	SecretsSigningKey string `env:"SECRETS_SIGNING_KEY,required=true"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	PhoneDailyLimit      int    `env:"SMS_PHONE_DAILY_LIMIT,default=3"`
	IPHourlyLimit        int    `env:"SMS_IP_HOURLY_LIMIT,default=5"`
	VerifyAttemptLimit   int    `env:"SMS_VERIFY_ATTEMPT_LIMIT,default=5"`
	VerifyWindowSec      int    `env:"SMS_VERIFY_WINDOW_SEC,default=300"`
	AddressLimit         int    `env:"SMS_ADDRESS_LIMIT,default=50"`
	ProviderRatePerSec   int    `env:"SMS_PROVIDER_RATE_PER_SEC,default=20"`
	SendTimeoutSec       int    `env:"SMS_SEND_TIMEOUT_SEC,default=30"`
	LogRetentionDays     int    `env:"SMS_LOG_RETENTION_DAYS,default=90"`
	RetentionSweepSec    int    `env:"SMS_RETENTION_SWEEP_SEC,default=3600"`
	BalanceCheckSec      int    `env:"SMS_BALANCE_CHECK_SEC,default=900"`
	FailoverEnabled      bool   `env:"SMS_FAILOVER_ENABLED,default=false"`
	DLRWorkerConcurrency int    `env:"DLR_WORKER_CONCURRENCY,default=4"`
	ProvidersSeedFile    string `env:"PROVIDERS_SEED_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	positive := map[string]int{
		"SMS_PHONE_DAILY_LIMIT":    c.PhoneDailyLimit,
		"SMS_IP_HOURLY_LIMIT":      c.IPHourlyLimit,
		"SMS_VERIFY_ATTEMPT_LIMIT": c.VerifyAttemptLimit,
		"SMS_VERIFY_WINDOW_SEC":    c.VerifyWindowSec,
		"SMS_ADDRESS_LIMIT":        c.AddressLimit,
		"SMS_SEND_TIMEOUT_SEC":     c.SendTimeoutSec,
		"SMS_LOG_RETENTION_DAYS":   c.LogRetentionDays,
		"SMS_RETENTION_SWEEP_SEC":  c.RetentionSweepSec,
		"SMS_BALANCE_CHECK_SEC":    c.BalanceCheckSec,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	return nil
}

func (c *Config) VerifyWindow() time.Duration {
	return time.Duration(c.VerifyWindowSec) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.LogRetentionDays) * 24 * time.Hour
}

func (c *Config) RetentionSweepInterval() time.Duration {
	return time.Duration(c.RetentionSweepSec) * time.Second
}

func (c *Config) BalanceCheckInterval() time.Duration {
	return time.Duration(c.BalanceCheckSec) * time.Second
}
