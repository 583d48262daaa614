package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "STOREFRONT_KAFKA_BROKERS"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "STOREFRONT_OUTBOX_MAX_PENDING"
	envIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envLedgerMaxAttempts           = "STOREFRONT_LEDGER_MAX_ATTEMPTS"
	envLedgerRetryDelay            = "STOREFRONT_LEDGER_RETRY_DELAY"
	envCustomerAPIURL              = "STOREFRONT_CUSTOMER_API_URL"
	envCustomerAPITimeout          = "STOREFRONT_CUSTOMER_API_TIMEOUT"
	envOTLPEndpoint                = "STOREFRONT_OTLP_ENDPOINT"
)

type envLookup func(key string) (string, bool)

func readConfig() (app.Config, []string) {
	return readConfigFromEnv(os.LookupEnv)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Невалидное значение не применяется и возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q: %v", key, value, err))
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}

	positiveInt := func(v int) bool { return v > 0 }
	nonNegativeInt := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envKafkaBrokers, &cfg.KafkaBrokers)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positiveInt, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positiveInt, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegativeInt, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positiveInt, "must be > 0")

	integer(envLedgerMaxAttempts, &cfg.LedgerMaxAttempts, positiveInt, "must be > 0")
	duration(envLedgerRetryDelay, &cfg.LedgerRetryDelay, nonNegativeDuration, "must be >= 0")

	str(envCustomerAPIURL, &cfg.CustomerAPIURL)
	duration(envCustomerAPITimeout, &cfg.CustomerAPITimeout, positiveDuration, "must be > 0")
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)

	return cfg, warnings
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(value string, valid func(int) bool, rule string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(parsed) {
		return 0, fmt.Errorf("%s", rule)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(parsed) {
		return 0, fmt.Errorf("%s", rule)
	}
	return parsed, nil
}
