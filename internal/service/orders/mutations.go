package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
)

// EditOrderRequest — правка заказа администратором. Пустые ProductID и Status
// оставляют текущие значения; ExpectedVersion == 0 — версия, прочитанная сейчас.
type EditOrderRequest struct {
	OrderID         string
	ExpectedVersion int64
	ProductID       string
	Quantity        int
	Status          domain.OrderStatus
}

// EditOrder меняет товар, количество и статус заказа.
// Смена товара фиксирует новое название и цену, итог пересчитывается.
func (s *Service) EditOrder(ctx context.Context, req EditOrderRequest) (result MutationResult, err error) {
	ctx, span := s.startSpan(ctx, "orders.EditOrder", attribute.String("order.id", req.OrderID))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	if !domain.ValidQuantity(req.Quantity) {
		return MutationResult{}, domain.ErrQuantityInvalid
	}
	if req.Status != "" && !req.Status.Valid() {
		return MutationResult{}, fmt.Errorf("%w: %q", domain.ErrStatusInvalid, req.Status)
	}

	current, err := s.load(ctx, req.OrderID, req.ExpectedVersion)
	if err != nil {
		return MutationResult{}, err
	}

	next := current
	next.Quantity = req.Quantity
	if req.Status != "" {
		next.Status = req.Status
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID != "" && productID != current.ProductID {
		product, err := s.products.Get(ctx, productID)
		if err != nil {
			return MutationResult{}, fmt.Errorf("load product %s: %w", productID, err)
		}
		next.ProductID = product.ID
		next.ProductName = product.Name
		next.UnitPrice = product.Price
	}
	next.RecalculateTotal()

	var previous *domain.OrderStatus
	if next.Status != current.Status {
		prev := current.Status
		previous = &prev
	}

	return s.update(ctx, current, next, mutationMeta{
		cause:        reconcile.CauseEdit,
		eventType:    domain.EventTypeOrderUpdated,
		previous:     previous,
		timelineType: domain.TimelineOrderUpdated,
		timelineNote: fmt.Sprintf("%s x%d %s", next.ProductID, next.Quantity, next.Status),
	})
}

// UpdateStatus меняет только статус заказа и сверяет остатки.
// Повторная установка того же статуса ничего не меняет.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, expectedVersion int64, status domain.OrderStatus) (result MutationResult, err error) {
	ctx, span := s.startSpan(ctx, "orders.UpdateStatus",
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	)
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	cause := reconcile.CauseStatusChange
	if status == domain.OrderStatusCancelled {
		cause = reconcile.CauseCancel
	}
	return s.changeStatus(ctx, orderID, expectedVersion, status, cause)
}

// CancelOrder переводит заказ в Cancelled и возвращает товар на склад.
// Отмена уже отменённого заказа — no-op.
func (s *Service) CancelOrder(ctx context.Context, orderID string, expectedVersion int64) (result MutationResult, err error) {
	ctx, span := s.startSpan(ctx, "orders.CancelOrder", attribute.String("order.id", orderID))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	return s.changeStatus(ctx, orderID, expectedVersion, domain.OrderStatusCancelled, reconcile.CauseCancel)
}

func (s *Service) changeStatus(ctx context.Context, orderID string, expectedVersion int64, status domain.OrderStatus, cause reconcile.Cause) (MutationResult, error) {
	if !status.Valid() {
		return MutationResult{}, fmt.Errorf("%w: %q", domain.ErrStatusInvalid, status)
	}

	current, err := s.load(ctx, orderID, expectedVersion)
	if err != nil {
		return MutationResult{}, err
	}
	if current.Status == status {
		s.logger.WithFields(log.Fields{
			"order_id": current.ID,
			"status":   status,
		}).Debug("status unchanged, skipping write")
		return MutationResult{Order: current}, nil
	}

	next := current
	next.Status = status
	prev := current.Status

	return s.update(ctx, current, next, mutationMeta{
		cause:        cause,
		eventType:    domain.EventTypeOrderStatusUpdated,
		previous:     &prev,
		timelineType: domain.TimelineStatusChanged,
		timelineNote: fmt.Sprintf("%s -> %s", prev, status),
	})
}

// ConfirmPayment сохраняет ссылку на подтверждение оплаты и переводит заказ в Processing.
// Товар списывается, только если заказ был отменён.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, proofReference string) (result MutationResult, err error) {
	ctx, span := s.startSpan(ctx, "orders.ConfirmPayment", attribute.String("order.id", orderID))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	proof := strings.TrimSpace(proofReference)
	if proof == "" {
		return MutationResult{}, domain.ErrPaymentProofRequired
	}

	current, err := s.load(ctx, orderID, 0)
	if err != nil {
		return MutationResult{}, err
	}

	next := current
	next.Status = domain.OrderStatusProcessing
	next.PaymentProof = proof
	prev := current.Status

	return s.update(ctx, current, next, mutationMeta{
		cause:        reconcile.CausePayment,
		eventType:    domain.EventTypeOrderStatusUpdated,
		previous:     &prev,
		timelineType: domain.TimelinePaymentProof,
		timelineNote: proof,
	})
}

// DeleteOrder удаляет заказ с проверкой версии и возвращает товар,
// если заказ не был отменён.
func (s *Service) DeleteOrder(ctx context.Context, orderID string, expectedVersion int64) (result MutationResult, err error) {
	ctx, span := s.startSpan(ctx, "orders.DeleteOrder", attribute.String("order.id", orderID))
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	current, err := s.load(ctx, orderID, expectedVersion)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.orders.Delete(ctx, current.ID, current.Version); err != nil {
		return MutationResult{}, fmt.Errorf("delete order %s: %w", current.ID, err)
	}

	s.logger.WithFields(log.Fields{
		"order_id": current.ID,
		"status":   current.Status,
	}).Info("order deleted")

	// надгробие должно быть новее любого прежнего события заказа
	tombstone := current
	tombstone.Version++
	tombstone.UpdatedAt = s.now()

	return s.afterWrite(ctx, postWrite{
		mutation: reconcile.Mutation{
			OrderID: current.ID,
			Before:  reconcile.SnapshotOf(current),
			Cause:   reconcile.CauseDelete,
		},
		order:        tombstone,
		eventType:    domain.EventTypeOrderDeleted,
		timelineType: domain.TimelineOrderDeleted,
		timelineNote: string(current.Status),
	})
}

// load читает заказ и сверяет ожидаемую версию (0 — без проверки до записи).
func (s *Service) load(ctx context.Context, orderID string, expectedVersion int64) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if expectedVersion != 0 && order.Version != expectedVersion {
		return domain.Order{}, fmt.Errorf("order %s: expected version %d, got %d: %w",
			orderID, expectedVersion, order.Version, domain.ErrOrderVersionConflict)
	}
	return order, nil
}

type mutationMeta struct {
	cause        reconcile.Cause
	eventType    string
	previous     *domain.OrderStatus
	timelineType string
	timelineNote string
}

func (s *Service) update(ctx context.Context, current, next domain.Order, change mutationMeta) (MutationResult, error) {
	next.UpdatedAt = s.now()
	if errs := next.ValidateInvariants(); len(errs) > 0 {
		return MutationResult{}, errors.Join(errs...)
	}

	saved, err := s.orders.Save(ctx, next)
	if err != nil {
		return MutationResult{}, fmt.Errorf("save order %s: %w", next.ID, err)
	}

	s.logger.WithFields(log.Fields{
		"order_id": saved.ID,
		"version":  saved.Version,
		"status":   saved.Status,
		"cause":    change.cause,
	}).Info("order updated")

	return s.afterWrite(ctx, postWrite{
		mutation: reconcile.Mutation{
			OrderID: saved.ID,
			Before:  reconcile.SnapshotOf(current),
			After:   reconcile.SnapshotOf(saved),
			Cause:   change.cause,
		},
		order:        saved,
		eventType:    change.eventType,
		previous:     change.previous,
		timelineType: change.timelineType,
		timelineNote: change.timelineNote,
	})
}

type postWrite struct {
	mutation     reconcile.Mutation
	order        domain.Order
	eventType    string
	previous     *domain.OrderStatus
	timelineType string
	timelineNote string
}

// afterWrite выполняет шаги после записи заказа. Любой сбой здесь возвращается
// как *domain.PartialReconciliationError вместе с записанным заказом.
func (s *Service) afterWrite(ctx context.Context, step postWrite) (MutationResult, error) {
	order := step.order
	logger := s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"cause":    step.mutation.Cause,
	})

	var (
		stage domain.ReconciliationStage
		errs  []error
	)

	deltas, err := s.engine.Reconcile(ctx, step.mutation)
	if err != nil {
		stage = domain.StageStockEvent
		if errors.Is(err, domain.ErrReconciliationFailed) || !errors.Is(err, domain.ErrPublishFailure) {
			stage = domain.StageStock
		}
		errs = append(errs, err)
	}

	event := domain.NewOrderNotification(step.eventType, order, step.previous)
	if err := s.publisher.Publish(ctx, domain.TopicOrderNotifications, event); err != nil {
		s.metrics.RecordPublishFailure(domain.TopicOrderNotifications)
		if stage == "" {
			stage = domain.StageOrderEvent
		}
		errs = append(errs, fmt.Errorf("%w: %s for %s: %w", domain.ErrPublishFailure, step.eventType, order.ID, err))
	}

	s.appendTimeline(ctx, order.ID, step.timelineType, step.timelineNote)
	for _, delta := range deltas {
		s.appendTimeline(ctx, order.ID, domain.TimelineStockAdjusted,
			fmt.Sprintf("%s %d -> %d (%s)", delta.ProductID, delta.PreviousStock, delta.NewStock, delta.Reason))
	}

	result := MutationResult{Order: order, Deltas: deltas}
	if len(errs) == 0 {
		return result, nil
	}

	partial := &domain.PartialReconciliationError{
		OrderID: order.ID,
		Stage:   stage,
		Applied: deltas,
		Err:     errors.Join(errs...),
	}
	s.metrics.RecordPartialReconciliation(string(stage))
	s.appendTimeline(ctx, order.ID, domain.TimelineReconcileFail, string(stage))
	logger.WithFields(log.Fields{
		"stage":   stage,
		"applied": len(deltas),
		"error":   partial.Err,
	}).Error("order committed but reconciliation incomplete, manual reconciliation required")

	return result, partial
}

func (s *Service) appendTimeline(ctx context.Context, orderID, eventType, reason string) {
	err := s.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: s.now(),
	})
	if err != nil {
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"type":     eventType,
			"error":    err,
		}).Warn("failed to append timeline event")
		return
	}
	s.metrics.RecordTimelineEvent()
}
