package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated  = "order.created"
	TimelineOrderUpdated  = "order.updated"
	TimelineStatusChanged = "order.status_changed"
	TimelineStockAdjusted = "order.stock_adjusted"
	TimelinePaymentProof  = "order.payment_proof"
	TimelineOrderDeleted  = "order.deleted"
	TimelineReconcileFail = "order.reconciliation_failed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
