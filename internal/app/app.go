package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/customer"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает gRPC API, outbox worker, очистку ключей идемпотентности и HTTP
// с метриками и health. Возвращает ctx.Err() после остановки по сигналу.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       true,
		ServiceName:    "storefront",
		ServiceVersion: version.GetVersion(),
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownWithTimeout(shutdownTracing, logger, "tracing")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	recMetrics := metrics.NewReconciliationMetrics()
	service, err := buildOrderService(cfg, deps, recMetrics, logger)
	if err != nil {
		return err
	}

	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	workers.Add(1)
	go func() {
		defer workers.Done()
		guard.Run(workersCtx)
	}()

	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer)
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(publisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.Run(workersCtx)
		}()
	} else {
		logger.Warn("kafka is not configured, events stay in the outbox until a broker is set")
	}

	grpcServer, grpcMetrics := newGRPCServer(logger)
	grpcsvc.RegisterStorefrontServer(grpcServer, grpcsvc.NewServer(service, guard, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("grpc server listening on %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping grpc server")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func buildOrderService(cfg Config, deps *runtimeDependencies, recMetrics *metrics.ReconciliationMetrics, logger *log.Entry) (*orders.Service, error) {
	retry := resilience.DefaultRetryConfig()
	if cfg.LedgerMaxAttempts > 0 {
		retry.MaxAttempts = cfg.LedgerMaxAttempts
	}
	if cfg.LedgerRetryDelay > 0 {
		retry.InitialDelay = cfg.LedgerRetryDelay
	}

	stockLedger := ledger.New(deps.productRepo,
		ledger.WithRetryConfig(retry),
		ledger.WithMetrics(recMetrics),
		ledger.WithLogger(logger.WithField("layer", "ledger")),
	)
	publisher := outbox.NewPublisher(deps.outboxRepo)
	engine := reconcile.NewEngine(stockLedger, publisher,
		reconcile.WithMetrics(recMetrics),
		reconcile.WithLogger(logger.WithField("layer", "reconcile")),
	)

	var customers domain.CustomerDirectory
	if cfg.CustomerAPIURL != "" {
		client, err := customer.NewClient(cfg.CustomerAPIURL,
			customer.WithTimeout(cfg.CustomerAPITimeout),
			customer.WithLogger(logger.WithField("layer", "customer-directory")),
		)
		if err != nil {
			return nil, err
		}
		customers = client
	}

	return orders.NewService(orders.Dependencies{
		Products:  deps.productRepo,
		Orders:    deps.orderRepo,
		Timeline:  deps.timelineRepo,
		Engine:    engine,
		Publisher: publisher,
		Customers: customers,
		Metrics:   recMetrics,
		Logger:    logger.WithField("layer", "orders"),
	})
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *promgrpc.ServerMetrics) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	return server, grpcMetrics
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing stop")
		server.Stop()
	}
}

// outboxBacklogChecker отдаёт degraded, если неотправленных сообщений больше maxPending.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewSimpleChecker("outbox", func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	}).Optional()
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}

func shutdownWithTimeout(shutdown func(context.Context) error, logger *log.Entry, name string) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).WithField("target", name).Warn("shutdown with error")
	}
}
