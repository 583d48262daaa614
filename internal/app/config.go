package app

import "time"

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Хранилища проекций обработчика уведомлений.
const (
	ReadModelMemory = "memory"
	ReadModelRedis  = "redis"
)

// Config описывает настройки процесса storefront.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog, после которого health отдаёт degraded. 0 отключает проверку.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LedgerMaxAttempts int
	LedgerRetryDelay  time.Duration

	CustomerAPIURL     string
	CustomerAPITimeout time.Duration

	OTLPEndpoint string
}

// DefaultConfig возвращает значения по умолчанию для локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		LedgerMaxAttempts:           5,
		LedgerRetryDelay:            5 * time.Millisecond,
		CustomerAPITimeout:          2 * time.Second,
	}
}

// ProcessorConfig описывает настройки процесса notification-processor.
type ProcessorConfig struct {
	MetricsAddr        string
	KafkaBrokers       string
	ConsumerGroup      string
	ReadModel          string
	RedisAddr          string
	ConsumerMaxRetries int
	OTLPEndpoint       string
}

// DefaultProcessorConfig возвращает значения по умолчанию для обработчика уведомлений.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MetricsAddr:        ":9091",
		KafkaBrokers:       "localhost:9092",
		ConsumerGroup:      "storefront-notification-processor",
		ReadModel:          ReadModelMemory,
		RedisAddr:          "localhost:6379",
		ConsumerMaxRetries: 3,
	}
}
