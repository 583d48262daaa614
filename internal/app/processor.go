package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/projection"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// initReadModel выбирает хранилище проекций. Для redis возвращает функцию закрытия клиента.
func initReadModel(ctx context.Context, cfg ProcessorConfig, logger *log.Entry) (domain.ReadModel, healthcheck.Checker, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ReadModel)) {
	case "", ReadModelMemory:
		logger.Info("projections kept in process memory")
		return memory.NewReadModel(), nil, nil, nil
	case ReadModelRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		model := redisstore.NewReadModel(client)
		if err := model.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		logger.WithField("addr", cfg.RedisAddr).Info("projections stored in redis")
		return model, healthcheck.NewPingChecker("redis", model), client.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported read model %q", cfg.ReadModel)
	}
}

// RunNotificationProcessor читает топики уведомлений и применяет их к read model.
// Невалидные события сразу уходят в DLQ, остальные ошибки ретраятся consumer'ом.
func RunNotificationProcessor(ctx context.Context, cfg ProcessorConfig) error {
	logger := log.WithField("component", "notification-processor")

	brokers := splitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return errors.New("kafka brokers are required for notification processor")
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
		ServiceName:    "storefront-notification-processor",
		ServiceVersion: version.GetVersion(),
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownWithTimeout(shutdownTracing, logger, "tracing")

	model, modelChecker, closeModel, err := initReadModel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeModel != nil {
		defer func() {
			if err := closeModel(); err != nil {
				logger.WithError(err).Warn("failed to close read model")
			}
		}()
	}

	processor := projection.NewProcessor(model,
		projection.WithMetrics(metrics.NewProjectionMetrics()),
		projection.WithLogger(logger),
	)

	dlqProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeKafka(dlqProducer, logger)

	consumer, err := kafka.NewConsumerWithDLQ(
		brokers,
		cfg.ConsumerGroup,
		[]string{domain.TopicStockUpdates, domain.TopicOrderNotifications},
		processor.HandleMessage,
		dlqProducer,
		cfg.ConsumerMaxRetries,
		kafka.WithPermanentErrors(func(err error) bool {
			return errors.Is(err, projection.ErrInvalidEvent)
		}),
	)
	if err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("read-model", modelChecker)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"group":   cfg.ConsumerGroup,
		"brokers": brokers,
	}).Info("notification processor started")

	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop consumer")
	}
	return ctx.Err()
}
