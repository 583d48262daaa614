package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// ErrInvalidEvent — событие нельзя применить ни при каком повторе (битый JSON,
// неизвестный тип, нет идентификатора или sequence).
var ErrInvalidEvent = errors.New("invalid notification event")

// Processor применяет уведомления к read model. Повторная доставка и
// перестановка событий безопасны: проекция принимает только более новый sequence.
type Processor struct {
	model   domain.ReadModel
	metrics *metrics.ProjectionMetrics
	logger  *log.Entry
}

// Option настраивает Processor.
type Option func(*Processor)

func WithMetrics(m *metrics.ProjectionMetrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor создаёт обработчик поверх read model.
func NewProcessor(model domain.ReadModel, opts ...Option) *Processor {
	p := &Processor{
		model:  model,
		logger: log.WithField("component", "notification-processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleMessage — обработчик для kafka consumer.
func (p *Processor) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	if message == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidEvent)
	}
	return p.Handle(ctx, message.Value)
}

// Handle декодирует событие по полю type и применяет его к проекции.
func (p *Processor) Handle(ctx context.Context, payload []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		p.metrics.RecordEvent("", metrics.ProjectionInvalid)
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var (
		applied bool
		err     error
	)
	switch envelope.Type {
	case domain.EventTypeStockUpdated:
		applied, err = p.applyStock(ctx, payload)
	case domain.EventTypeOrderCreated,
		domain.EventTypeOrderStatusUpdated,
		domain.EventTypeOrderUpdated,
		domain.EventTypeOrderDeleted:
		applied, err = p.applyOrder(ctx, envelope.Type, payload)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, envelope.Type)
	}

	switch {
	case errors.Is(err, ErrInvalidEvent):
		p.metrics.RecordEvent(envelope.Type, metrics.ProjectionInvalid)
		p.logger.WithError(err).WithField("type", envelope.Type).Warn("skipping invalid event")
		return err
	case err != nil:
		return err
	case applied:
		p.metrics.RecordEvent(envelope.Type, metrics.ProjectionApplied)
	default:
		p.metrics.RecordEvent(envelope.Type, metrics.ProjectionDuplicate)
		p.logger.WithField("type", envelope.Type).Debug("stale or duplicate event ignored")
	}
	return nil
}

func (p *Processor) applyStock(ctx context.Context, payload []byte) (bool, error) {
	var event domain.StockUpdatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.ProductID == "" || event.Sequence <= 0 || event.NewStock < 0 {
		return false, fmt.Errorf("%w: stock event product=%q sequence=%d", ErrInvalidEvent, event.ProductID, event.Sequence)
	}

	applied, err := p.model.ApplyStock(ctx, domain.ProductStockView{
		ProductID:   event.ProductID,
		ProductName: event.ProductName,
		Stock:       event.NewStock,
		UpdatedBy:   event.UpdatedBy,
		UpdatedAt:   event.UpdatedAtUTC,
		Sequence:    event.Sequence,
	})
	if err != nil {
		return false, fmt.Errorf("apply stock %s: %w", event.ProductID, err)
	}
	return applied, nil
}

func (p *Processor) applyOrder(ctx context.Context, eventType string, payload []byte) (bool, error) {
	var event domain.OrderNotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.OrderID == "" || event.Sequence <= 0 {
		return false, fmt.Errorf("%w: order event order=%q sequence=%d", ErrInvalidEvent, event.OrderID, event.Sequence)
	}

	applied, err := p.model.ApplyOrder(ctx, domain.OrderView{
		OrderID:      event.OrderID,
		CustomerID:   event.CustomerID,
		CustomerName: event.CustomerName,
		ProductID:    event.ProductID,
		ProductName:  event.ProductName,
		Quantity:     event.Quantity,
		TotalAmount:  event.TotalAmount,
		Status:       event.Status,
		PaymentProof: event.PaymentProof,
		OrderDate:    event.OrderDateUTC,
		Sequence:     event.Sequence,
		Deleted:      eventType == domain.EventTypeOrderDeleted,
	})
	if err != nil {
		return false, fmt.Errorf("apply order %s: %w", event.OrderID, err)
	}
	return applied, nil
}
