package domain

import "time"

// StockReason — закрытый набор причин изменения остатка.
// Строковые значения уходят в поле updatedBy события StockUpdated.
type StockReason string

const (
	ReasonOrderCreatedFromCart   StockReason = "order-created-from-cart"
	ReasonOrderCreatedSubmitted  StockReason = "order-created-Submitted"
	ReasonOrderCreatedProcessing StockReason = "order-created-Processing"
	ReasonOrderCreatedProcessed  StockReason = "order-created-PROCESSED"
	ReasonOrderCreatedShipped    StockReason = "order-created-Shipped"
	ReasonOrderCreatedDelivered  StockReason = "order-created-Delivered"
	ReasonOrderStatusReactivated StockReason = "order-status-reactivated"
	ReasonOrderCancelled         StockReason = "order-cancelled"
	ReasonProductChangeRestore   StockReason = "order-edit-product-change-restore"
	ReasonProductChangeDeduct    StockReason = "order-edit-product-change-deduct"
	ReasonQuantityChange         StockReason = "order-edit-quantity-change"
	ReasonPaymentProofUploaded   StockReason = "payment-proof-uploaded"
	ReasonOrderDeleted           StockReason = "order-deleted"
)

var createdReasons = map[OrderStatus]StockReason{
	OrderStatusSubmitted:  ReasonOrderCreatedSubmitted,
	OrderStatusProcessing: ReasonOrderCreatedProcessing,
	OrderStatusProcessed:  ReasonOrderCreatedProcessed,
	OrderStatusShipped:    ReasonOrderCreatedShipped,
	OrderStatusDelivered:  ReasonOrderCreatedDelivered,
}

// ReasonOrderCreated возвращает причину списания для заказа, созданного сразу в статусе status.
// Для Cancelled списания нет, поэтому второй результат false.
func ReasonOrderCreated(status OrderStatus) (StockReason, bool) {
	reason, ok := createdReasons[status]
	return reason, ok
}

var knownReasons = map[StockReason]struct{}{
	ReasonOrderCreatedFromCart:   {},
	ReasonOrderCreatedSubmitted:  {},
	ReasonOrderCreatedProcessing: {},
	ReasonOrderCreatedProcessed:  {},
	ReasonOrderCreatedShipped:    {},
	ReasonOrderCreatedDelivered:  {},
	ReasonOrderStatusReactivated: {},
	ReasonOrderCancelled:         {},
	ReasonProductChangeRestore:   {},
	ReasonProductChangeDeduct:    {},
	ReasonQuantityChange:         {},
	ReasonPaymentProofUploaded:   {},
	ReasonOrderDeleted:           {},
}

// Valid проверяет, что причина входит в закрытый перечень.
func (r StockReason) Valid() bool {
	_, ok := knownReasons[r]
	return ok
}

// StockDelta — факт изменения остатка. Не хранится, превращается в событие.
type StockDelta struct {
	ProductID     string
	ProductName   string
	PreviousStock int
	NewStock      int
	Reason        StockReason
	Timestamp     time.Time
	// версия товара после записи
	Sequence int64
}

// Change возвращает фактически применённое изменение (с учётом ограничения снизу).
func (d StockDelta) Change() int {
	return d.NewStock - d.PreviousStock
}
