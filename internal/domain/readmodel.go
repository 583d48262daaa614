package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStockView хранит остаток товара для витрины.
type ProductStockView struct {
	ProductID   string
	ProductName string
	Stock       int
	UpdatedBy   string
	UpdatedAt   time.Time
	Sequence    int64
}

// OrderView — проекция заказа для истории клиента.
// Deleted=true означает надгробие: более старые события по заказу игнорируются.
type OrderView struct {
	OrderID      string
	CustomerID   string
	CustomerName string
	ProductID    string
	ProductName  string
	Quantity     int
	TotalAmount  decimal.Decimal
	Status       OrderStatus
	PaymentProof string
	OrderDate    time.Time
	Sequence     int64
	Deleted      bool
}

// ReadModel хранит проекции. Apply* применяют запись, только если её Sequence
// больше сохранённого, и сообщают, была ли запись применена.
type ReadModel interface {
	ApplyStock(ctx context.Context, view ProductStockView) (bool, error)
	ApplyOrder(ctx context.Context, view OrderView) (bool, error)
	ProductStock(ctx context.Context, productID string) (ProductStockView, error)
	Order(ctx context.Context, orderID string) (OrderView, error)
	// CustomerOrders возвращает неудалённые заказы клиента.
	CustomerOrders(ctx context.Context, customerID string) ([]OrderView, error)
}
