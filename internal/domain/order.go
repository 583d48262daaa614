package domain

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity ограничивает количество в заказе и остаток товара: в Postgres это INTEGER.
const MaxQuantity = math.MaxInt32

// ValidQuantity проверяет, что количество лежит в диапазоне 1..MaxQuantity.
func ValidQuantity(qty int) bool {
	return qty > 0 && qty <= MaxQuantity
}

// OrderStatus описывает жизненный цикл заказа витрины.
type OrderStatus string

const (
	// заказ оформлен клиентом
	OrderStatusSubmitted OrderStatus = "Submitted"
	// получено подтверждение оплаты
	OrderStatusProcessing OrderStatus = "Processing"
	// обработан складом
	OrderStatusProcessed OrderStatus = "PROCESSED"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled — единственный статус, не удерживающий товар.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusSubmitted,
	OrderStatusProcessing,
	OrderStatusProcessed,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OrderStatuses возвращает все допустимые статусы в порядке жизненного цикла.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus принимает точное имя статуса или имя без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, status := range orderStatuses {
		if string(status) == trimmed {
			return status, nil
		}
	}
	for _, status := range orderStatuses {
		if strings.EqualFold(string(status), trimmed) {
			return status, nil
		}
	}
	return "", ErrStatusInvalid
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	for _, status := range orderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// HoldsStock сообщает, удерживает ли заказ в этом статусе товар со склада.
func (s OrderStatus) HoldsStock() bool {
	return s != OrderStatusCancelled
}

// Order — одна позиция, купленная клиентом. Цена фиксируется на момент оформления.
type Order struct {
	ID           string
	CustomerID   string
	CustomerName string
	ProductID    string
	ProductName  string
	Quantity     int
	UnitPrice    decimal.Decimal
	TotalPrice   decimal.Decimal
	Status       OrderStatus
	PaymentProof string
	OrderDate    time.Time
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecalculateTotal пересчитывает итог как quantity * unit price.
func (o *Order) RecalculateTotal() {
	o.TotalPrice = o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if !ValidQuantity(o.Quantity) {
		errs = append(errs, ErrQuantityInvalid)
	}
	if o.UnitPrice.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}

	expected := o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
	if !expected.Equal(o.TotalPrice) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
