package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.StorageDriver = StorageDriverMemory
	cfg.KafkaBrokers = ""

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestRun_InvalidCustomerAPIURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.CustomerAPIURL = "not a url"

	if err := Run(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid customer api url")
	}
}

func TestRunNotificationProcessor_RequiresBrokers(t *testing.T) {
	cfg := DefaultProcessorConfig()
	cfg.KafkaBrokers = " "

	err := RunNotificationProcessor(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "kafka brokers are required") {
		t.Fatalf("expected brokers error, got %v", err)
	}
}

func TestInitReadModel(t *testing.T) {
	logger := log.WithField("test", "read-model")

	model, checker, closeFn, err := initReadModel(context.Background(), ProcessorConfig{ReadModel: ReadModelMemory}, logger)
	if err != nil {
		t.Fatalf("memory read model: %v", err)
	}
	if model == nil || checker != nil || closeFn != nil {
		t.Fatal("memory read model needs no checker or close func")
	}

	if _, _, _, err := initReadModel(context.Background(), ProcessorConfig{ReadModel: "cassandra"}, logger); err == nil {
		t.Fatal("expected error for unsupported read model")
	}
}

func TestInitReadModel_Redis(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("STOREFRONT_REDIS_ADDR"))
	if addr == "" {
		t.Skip("STOREFRONT_REDIS_ADDR is not set")
	}

	model, checker, closeFn, err := initReadModel(context.Background(), ProcessorConfig{
		ReadModel: ReadModelRedis,
		RedisAddr: addr,
	}, log.WithField("test", "redis-read-model"))
	if err != nil {
		t.Skipf("redis is not available: %v", err)
	}
	defer func() { _ = closeFn() }()

	if model == nil {
		t.Fatal("expected redis read model")
	}
	if check := checker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy redis checker, got %+v", check)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	logger := log.WithField("test", "postgres-init")
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(logger)

	if deps.productRepo == nil || deps.orderRepo == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}
