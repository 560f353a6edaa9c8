package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/authbatch/internal/service"
)

type Config struct {
	DatabaseDSN        string        `env:"DATABASE_DSN,required=true"`
	RabbitMQURL        string        `env:"RABBITMQ_URL,required=true"`
	RedisURL           string        `env:"REDIS_URL,required=true"`
	CredentialsDir     string        `env:"CREDENTIALS_DIR,required=true"`
	IdentityToolkitURL string        `env:"IDENTITY_TOOLKIT_URL,default=https://identitytoolkit.googleapis.com"`
	ChunkSize          int           `env:"CHUNK_SIZE,default=1000"`
	DeleteChunkSize    int           `env:"DELETE_CHUNK_SIZE,default=1000"`
	EnumerationCap     int           `env:"ENUMERATION_CAP,default=10000"`
	MaxTaskAttempts    int           `env:"MAX_TASK_ATTEMPTS,default=3"`
	InterCallDelay     time.Duration `env:"INTER_CALL_DELAY,default=200ms"`
	RiskyCallDelay     time.Duration `env:"RISKY_INTER_CALL_DELAY,default=1s"`
	ProviderTimeout    time.Duration `env:"PROVIDER_CALL_TIMEOUT,default=10s"`
	UseBatchDelete     bool          `env:"USE_BATCH_DELETE,default=true"`
	RateLimitPerSec    int           `env:"RATE_LIMIT_PER_SEC,default=0"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY,default=8"`
	StallTimeout       time.Duration `env:"STALL_TIMEOUT,default=6h"`
	StallScanInterval  time.Duration `env:"STALL_SCAN_INTERVAL,default=1m"`
	APIPort            int           `env:"API_PORT,default=8080"`
	WorkerMetricsPort  int           `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"CHUNK_SIZE", c.ChunkSize},
		{"DELETE_CHUNK_SIZE", c.DeleteChunkSize},
		{"ENUMERATION_CAP", c.EnumerationCap},
		{"MAX_TASK_ATTEMPTS", c.MaxTaskAttempts},
		{"WORKER_CONCURRENCY", c.WorkerConcurrency},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must not be negative, got %d", c.RateLimitPerSec)
	}
	if c.InterCallDelay < 0 || c.RiskyCallDelay < 0 {
		return fmt.Errorf("inter-call delays must not be negative")
	}
	if c.ProviderTimeout <= 0 || c.StallTimeout <= 0 || c.StallScanInterval <= 0 {
		return fmt.Errorf("PROVIDER_CALL_TIMEOUT, STALL_TIMEOUT and STALL_SCAN_INTERVAL must be positive")
	}
	return nil
}

// Engine returns the batch engine tunables.
func (c *Config) Engine() service.EngineConfig {
	return service.EngineConfig{
		ChunkSize:       c.ChunkSize,
		DeleteChunkSize: c.DeleteChunkSize,
		EnumerationCap:  c.EnumerationCap,
		MaxTaskAttempts: c.MaxTaskAttempts,
		InterCallDelay:  c.InterCallDelay,
		RiskyCallDelay:  c.RiskyCallDelay,
		ProviderTimeout: c.ProviderTimeout,
		UseBatchDelete:  c.UseBatchDelete,
	}
}
