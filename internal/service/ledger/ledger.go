package ledger

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/resilience"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// Adjustment — результат одной записи остатка.
type Adjustment struct {
	ProductID     string
	ProductName   string
	PreviousStock int
	NewStock      int
	Version       int64
	// Clamped — запрошенное списание превысило остаток, записан ноль.
	Clamped bool
}

// Ledger — единственный писатель остатков. Каждая запись выполняется как
// compare-and-set по версии товара; при конфликте состояние перечитывается.
type Ledger struct {
	products domain.ProductRepository
	retry    resilience.RetryConfig
	metrics  *metrics.ReconciliationMetrics
	logger   *log.Entry
	tracer   trace.Tracer
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithRetryConfig задаёт политику повторов при конфликте версий.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(l *Ledger) {
		if cfg.MaxAttempts > 0 {
			l.retry = cfg
		}
	}
}

func WithMetrics(m *metrics.ReconciliationMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New создаёт журнал поверх репозитория товаров.
func New(products domain.ProductRepository, opts ...Option) *Ledger {
	l := &Ledger{
		products: products,
		retry:    resilience.DefaultRetryConfig(),
		logger:   log.New().WithField("component", "stock-ledger"),
		tracer:   tracing.Tracer("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Adjust применяет delta к остатку товара: new = max(0, previous + delta).
// После исчерпания повторов возвращает ошибку, совместимую с domain.ErrConcurrencyConflict.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int) (Adjustment, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Adjust", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("stock.delta", delta),
	))
	defer span.End()

	if productID == "" {
		return Adjustment{}, domain.ErrProductRequired
	}

	var result Adjustment
	conflicts := 0
	err := resilience.Do(ctx, l.retry, l.logger, "ledger.adjust", isVersionConflict, func(ctx context.Context) error {
		adj, err := l.tryAdjust(ctx, productID, delta)
		if err != nil {
			if isVersionConflict(err) {
				conflicts++
				l.metrics.RecordLedgerConflict()
			}
			return err
		}
		result = adj
		return nil
	})
	span.SetAttributes(attribute.Int("ledger.conflicts", conflicts))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjust failed")
		if isVersionConflict(err) && ctx.Err() == nil {
			l.logger.WithFields(log.Fields{
				"product_id": productID,
				"delta":      delta,
				"attempts":   conflicts,
			}).Warn("stock adjustment lost every optimistic write")
			return Adjustment{}, fmt.Errorf("adjust stock for %s: %w", productID, errors.Join(domain.ErrConcurrencyConflict, err))
		}
		return Adjustment{}, fmt.Errorf("adjust stock for %s: %w", productID, err)
	}

	l.metrics.RecordLedgerAdjustment(result.Clamped)
	span.SetAttributes(
		attribute.Int("stock.previous", result.PreviousStock),
		attribute.Int("stock.new", result.NewStock),
	)
	l.logger.WithFields(log.Fields{
		"product_id": productID,
		"previous":   result.PreviousStock,
		"new":        result.NewStock,
		"version":    result.Version,
		"clamped":    result.Clamped,
	}).Debug("stock adjusted")

	return result, nil
}

func (l *Ledger) tryAdjust(ctx context.Context, productID string, delta int) (Adjustment, error) {
	product, err := l.products.Get(ctx, productID)
	if err != nil {
		return Adjustment{}, err
	}

	target := product.StockAvailable + delta
	clamped := false
	if target < 0 {
		target = 0
		clamped = true
	}
	if target > domain.MaxQuantity {
		return Adjustment{}, fmt.Errorf("%w: %d%+d", domain.ErrStockTooLarge, product.StockAvailable, delta)
	}

	adj := Adjustment{
		ProductID:     product.ID,
		ProductName:   product.Name,
		PreviousStock: product.StockAvailable,
		NewStock:      target,
		Version:       product.Version,
		Clamped:       clamped,
	}
	if target == product.StockAvailable {
		return adj, nil
	}

	updated, err := l.products.UpdateStock(ctx, productID, product.Version, target)
	if err != nil {
		return Adjustment{}, err
	}
	adj.NewStock = updated.StockAvailable
	adj.Version = updated.Version
	return adj, nil
}

func isVersionConflict(err error) bool {
	return errors.Is(err, domain.ErrProductVersionConflict)
}
