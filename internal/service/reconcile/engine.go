package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/tracing"
)

// StockAdjuster — контракт складского журнала.
type StockAdjuster interface {
	Adjust(ctx context.Context, productID string, delta int) (ledger.Adjustment, error)
}

// Engine переводит мутацию заказа в изменения остатков и события StockUpdated.
type Engine struct {
	ledger    StockAdjuster
	publisher domain.EventPublisher
	metrics   *metrics.ReconciliationMetrics
	logger    *log.Entry
	tracer    trace.Tracer
	now       func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

func WithMetrics(m *metrics.ReconciliationMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт движок сверки.
func NewEngine(adjuster StockAdjuster, publisher domain.EventPublisher, opts ...Option) *Engine {
	e := &Engine{
		ledger:    adjuster,
		publisher: publisher,
		logger:    log.New().WithField("component", "reconciliation-engine"),
		tracer:    tracing.Tracer("reconcile"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile применяет дельты мутации через журнал и публикует событие на каждую.
// Возвращает применённые дельты даже при ошибке. Ошибки публикации оборачиваются
// в domain.ErrPublishFailure и не прерывают применение оставшихся дельт.
func (e *Engine) Reconcile(ctx context.Context, m Mutation) ([]domain.StockDelta, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Reconcile", trace.WithAttributes(
		attribute.String("order.id", m.OrderID),
		attribute.String("reconcile.cause", string(m.Cause)),
	))
	defer span.End()

	start := time.Now()
	e.metrics.ReconciliationStarted()

	applied, result, err := e.reconcile(ctx, m, span)

	e.metrics.RecordReconciliation(string(m.Cause), result, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.SetAttributes(attribute.Int("reconcile.applied", len(applied)))
	return applied, err
}

func (e *Engine) reconcile(ctx context.Context, m Mutation, span trace.Span) ([]domain.StockDelta, string, error) {
	plan, action, err := Plan(m)
	if err != nil {
		return nil, "invalid", err
	}
	span.SetAttributes(attribute.String("reconcile.action", action.String()))
	if len(plan) == 0 {
		return nil, "noop", nil
	}

	logger := e.logger.WithFields(log.Fields{
		"order_id": m.OrderID,
		"cause":    m.Cause,
		"action":   action.String(),
	})

	applied := make([]domain.StockDelta, 0, len(plan))
	var publishErrs []error
	retried := false

	for i := 0; i < len(plan); {
		step := plan[i]
		adj, err := e.ledger.Adjust(ctx, step.ProductID, step.Delta)
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) && !retried {
				retried = true
				logger.WithFields(log.Fields{
					"product_id": step.ProductID,
					"remaining":  len(plan) - i,
				}).Warn("stock conflict, retrying remaining plan")
				continue
			}

			logger.WithFields(log.Fields{
				"product_id": step.ProductID,
				"delta":      step.Delta,
				"applied":    len(applied),
				"error":      err,
			}).Error("stock reconciliation incomplete")
			failure := fmt.Errorf("%w: %s %+d (%s): %w", domain.ErrReconciliationFailed, step.ProductID, step.Delta, step.Reason, err)
			return applied, "failed", errors.Join(append([]error{failure}, publishErrs...)...)
		}

		delta := domain.StockDelta{
			ProductID:     adj.ProductID,
			ProductName:   adj.ProductName,
			PreviousStock: adj.PreviousStock,
			NewStock:      adj.NewStock,
			Reason:        step.Reason,
			Timestamp:     e.now(),
			Sequence:      adj.Version,
		}
		applied = append(applied, delta)

		if err := e.publisher.Publish(ctx, domain.TopicStockUpdates, domain.NewStockUpdatedEvent(delta)); err != nil {
			e.metrics.RecordPublishFailure(domain.TopicStockUpdates)
			logger.WithFields(log.Fields{
				"product_id": delta.ProductID,
				"reason":     delta.Reason,
				"error":      err,
			}).Error("failed to enqueue stock event")
			publishErrs = append(publishErrs, fmt.Errorf("%w: stock event for %s: %w", domain.ErrPublishFailure, delta.ProductID, err))
		}

		logger.WithFields(log.Fields{
			"product_id": delta.ProductID,
			"previous":   delta.PreviousStock,
			"new":        delta.NewStock,
			"reason":     delta.Reason,
		}).Info("stock reconciled")
		i++
	}

	if len(publishErrs) > 0 {
		return applied, "publish_failed", errors.Join(publishErrs...)
	}
	return applied, "ok", nil
}
