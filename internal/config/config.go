package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL    string `env:"RABBITMQ_URL,required=true"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	CoreBankingURL string `env:"CORE_BANKING_URL,required=true"`

	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	RepairScanIntervalSec  int `env:"REPAIR_SCAN_INTERVAL_SEC,default=30"`
	RepairScanLimit        int `env:"REPAIR_SCAN_LIMIT,default=50"`
	RepairRetryConcurrency int `env:"REPAIR_RETRY_CONCURRENCY,default=8"`

	CoreBankingMaxConcurrent     int `env:"CORE_BANKING_MAX_CONCURRENT,default=25"`
	CoreBankingBreakerWindow     int `env:"CORE_BANKING_BREAKER_WINDOW,default=10"`
	CoreBankingBreakerCooldownMs int `env:"CORE_BANKING_BREAKER_COOLDOWN_MS,default=30000"`
	CoreBankingRetryAttempts     int `env:"CORE_BANKING_RETRY_ATTEMPTS,default=3"`
	CoreBankingCallTimeoutMs     int `env:"CORE_BANKING_CALL_TIMEOUT_MS,default=30000"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
