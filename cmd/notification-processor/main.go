package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envMetricsAddr        = "STOREFRONT_METRICS_ADDR"
	envLogLevel           = "STOREFRONT_LOG_LEVEL"
	envKafkaBrokers       = "STOREFRONT_KAFKA_BROKERS"
	envConsumerGroup      = "STOREFRONT_CONSUMER_GROUP"
	envReadModel          = "STOREFRONT_READ_MODEL"
	envRedisAddr          = "STOREFRONT_REDIS_ADDR"
	envConsumerMaxRetries = "STOREFRONT_CONSUMER_MAX_RETRIES"
	envOTLPEndpoint       = "STOREFRONT_OTLP_ENDPOINT"
)

type envLookup func(key string) (string, bool)

func readConfigFromEnv(lookup envLookup) (app.ProcessorConfig, []string) {
	cfg := app.DefaultProcessorConfig()
	var warnings []string

	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set(envMetricsAddr, &cfg.MetricsAddr)
	set(envKafkaBrokers, &cfg.KafkaBrokers)
	set(envConsumerGroup, &cfg.ConsumerGroup)
	set(envReadModel, &cfg.ReadModel)
	cfg.ReadModel = strings.ToLower(cfg.ReadModel)
	set(envRedisAddr, &cfg.RedisAddr)
	set(envOTLPEndpoint, &cfg.OTLPEndpoint)

	if v, ok := lookup(envConsumerMaxRetries); ok && strings.TrimSpace(v) != "" {
		retries, err := strconv.Atoi(strings.TrimSpace(v))
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("%s=%q: %v", envConsumerMaxRetries, v, err))
		case retries < 0:
			warnings = append(warnings, fmt.Sprintf("%s=%q: must be >= 0", envConsumerMaxRetries, v))
		default:
			cfg.ConsumerMaxRetries = retries
		}
	}

	return cfg, warnings
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if level, err := log.ParseLevel(os.Getenv(envLogLevel)); err == nil {
		log.SetLevel(level)
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warnf("invalid config value ignored: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"brokers":    cfg.KafkaBrokers,
		"group":      cfg.ConsumerGroup,
		"read_model": cfg.ReadModel,
	}).Info("starting notification-processor")

	if err := app.RunNotificationProcessor(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("notification-processor exited with error")
	}

	log.Info("notification-processor stopped")
}
