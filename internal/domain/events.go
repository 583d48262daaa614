package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Топики, в которые публикуются уведомления.
const (
	TopicStockUpdates       = "stock-updates"
	TopicOrderNotifications = "order-notifications"
)

// Типы событий (поле type в JSON).
const (
	EventTypeStockUpdated       = "StockUpdated"
	EventTypeOrderCreated       = "OrderCreated"
	EventTypeOrderStatusUpdated = "order-status-updated"
	EventTypeOrderUpdated       = "OrderUpdated"
	EventTypeOrderDeleted       = "OrderDeleted"
)

// Event — уведомление, которое можно поставить в очередь публикации.
type Event interface {
	// EventType возвращает значение поля type.
	EventType() string
	// AggregateID используется как ключ партиционирования.
	AggregateID() string
	// AggregateType — раздел хранилища, к которому относится событие.
	AggregateType() Partition
}

// StockUpdatedEvent публикуется после каждого применённого изменения остатка.
type StockUpdatedEvent struct {
	Type          string    `json:"type"`
	ProductID     string    `json:"productId"`
	ProductName   string    `json:"productName"`
	PreviousStock int       `json:"previousStock"`
	NewStock      int       `json:"newStock"`
	UpdatedAtUTC  time.Time `json:"updatedAtUtc"`
	UpdatedBy     string    `json:"updatedBy"`
	Sequence      int64     `json:"sequence"`
}

// NewStockUpdatedEvent строит событие из применённой дельты.
func NewStockUpdatedEvent(delta StockDelta) StockUpdatedEvent {
	return StockUpdatedEvent{
		Type:          EventTypeStockUpdated,
		ProductID:     delta.ProductID,
		ProductName:   delta.ProductName,
		PreviousStock: delta.PreviousStock,
		NewStock:      delta.NewStock,
		UpdatedAtUTC:  delta.Timestamp.UTC(),
		UpdatedBy:     string(delta.Reason),
		Sequence:      delta.Sequence,
	}
}

func (e StockUpdatedEvent) EventType() string        { return e.Type }
func (e StockUpdatedEvent) AggregateID() string      { return e.ProductID }
func (e StockUpdatedEvent) AggregateType() Partition { return PartitionProduct }

// OrderNotificationEvent описывает изменение заказа для подписчиков.
type OrderNotificationEvent struct {
	Type           string          `json:"type"`
	OrderID        string          `json:"orderId"`
	CustomerID     string          `json:"customerId"`
	CustomerName   string          `json:"customerName"`
	ProductID      string          `json:"productId"`
	ProductName    string          `json:"productName"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	OrderDateUTC   time.Time       `json:"orderDateUtc"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus *OrderStatus    `json:"previousStatus,omitempty"`
	PaymentProof   string          `json:"paymentProof,omitempty"`
	Sequence       int64           `json:"sequence"`
}

// NewOrderNotification строит уведомление по состоянию заказа после записи.
// previous передаётся только для смены статуса.
func NewOrderNotification(eventType string, order Order, previous *OrderStatus) OrderNotificationEvent {
	return OrderNotificationEvent{
		Type:           eventType,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		CustomerName:   order.CustomerName,
		ProductID:      order.ProductID,
		ProductName:    order.ProductName,
		Quantity:       order.Quantity,
		UnitPrice:      order.UnitPrice,
		TotalAmount:    order.TotalPrice,
		OrderDateUTC:   order.OrderDate.UTC(),
		Status:         order.Status,
		PreviousStatus: previous,
		PaymentProof:   order.PaymentProof,
		Sequence:       order.Version,
	}
}

func (e OrderNotificationEvent) EventType() string        { return e.Type }
func (e OrderNotificationEvent) AggregateID() string      { return e.OrderID }
func (e OrderNotificationEvent) AggregateType() Partition { return PartitionOrder }

// TopicFor возвращает топик, в который уходит событие данного типа.
func TopicFor(eventType string) string {
	if eventType == EventTypeStockUpdated {
		return TopicStockUpdates
	}
	return TopicOrderNotifications
}
