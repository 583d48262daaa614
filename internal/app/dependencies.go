package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	productRepo     domain.ProductRepository
	orderRepo       domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			productRepo:     memory.NewProductRepository(),
			orderRepo:       memory.NewOrderRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required for postgres storage driver")
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	logger.Info("using postgres storage")
	return &runtimeDependencies{
		productRepo:     postgres.NewProductRepository(store),
		orderRepo:       postgres.NewOrderRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("postgres", store),
		closeFn:         store.Close,
	}, nil
}
