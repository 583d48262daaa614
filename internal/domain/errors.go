package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации: возвращаются до любой мутации.
var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductRequired = errors.New("product_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка пустого названия товара.
	ErrNameRequired = errors.New("product name is required")
	// Ошибка пустой корзины.
	ErrItemsRequired = errors.New("cart must contain at least one item")
	// Ошибка при некорректном количестве (вне 1..MaxQuantity).
	ErrQuantityInvalid = errors.New("quantity must be between 1 and 2147483647")
	// Ошибка, если цена отрицательная.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка, если остаток отрицательный.
	ErrStockNegative = errors.New("stock must be non-negative")
	ErrStockTooLarge = errors.New("stock exceeds 2147483647")
	// Ошибка несоответствия итога и quantity * unit price.
	ErrTotalMismatch = errors.New("total price does not match quantity and unit price")
	// Ошибка неизвестного статуса заказа.
	ErrStatusInvalid = errors.New("unknown order status")
	// Ошибка отсутствующей ссылки на подтверждение оплаты.
	ErrPaymentProofRequired = errors.New("payment proof reference is required")
	// ErrInsufficientStock возвращается, если на складе меньше, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ошибки отсутствующих сущностей.
var (
	ErrProductNotFound  = errors.New("product not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

var (
	// ErrProductAlreadyExists возвращается, если товар с таким ID уже есть в каталоге.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductVersionConflict сигнализирует, что товар изменился между чтением и записью.
	ErrProductVersionConflict = errors.New("product version conflict")
	// ErrConcurrencyConflict — оптимистичная запись остатка проиграла гонку после всех повторов.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrReconciliationFailed — движок не смог применить дельты остатков.
	ErrReconciliationFailed = errors.New("reconciliation failed")
	// ErrPartialReconciliation — заказ записан, но корректировка остатков или публикация не завершились.
	ErrPartialReconciliation = errors.New("partial reconciliation failure")
	// ErrPublishFailure: событие не удалось поставить в очередь.
	ErrPublishFailure = errors.New("event publish failed")
	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Ошибки хранилища ключей идемпотентности.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
)

var validationErrors = []error{
	ErrCustomerRequired,
	ErrProductRequired,
	ErrOrderIDRequired,
	ErrNameRequired,
	ErrItemsRequired,
	ErrQuantityInvalid,
	ErrPriceNegative,
	ErrStockNegative,
	ErrStockTooLarge,
	ErrTotalMismatch,
	ErrStatusInvalid,
	ErrPaymentProofRequired,
}

// IsValidation сообщает, что ошибка относится к валидации входных данных.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound проверяет, что сущность не найдена.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrCustomerNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) ||
		errors.Is(err, ErrProductVersionConflict) ||
		errors.Is(err, ErrConcurrencyConflict)
}

// IsIdempotencyConflict проверяет конфликт по ключу идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// ReconciliationStage указывает, на каком шаге после записи заказа произошёл сбой.
type ReconciliationStage string

const (
	StageStock      ReconciliationStage = "stock"
	StageStockEvent ReconciliationStage = "stock-event"
	StageOrderEvent ReconciliationStage = "order-event"
)

// PartialReconciliationError описывает расхождение: заказ уже записан,
// а остатки или уведомления — нет. Требует ручной сверки оператором.
type PartialReconciliationError struct {
	OrderID string
	Stage   ReconciliationStage
	Applied []StockDelta
	Err     error
}

func (e *PartialReconciliationError) Error() string {
	reasons := make([]string, 0, len(e.Applied))
	for _, delta := range e.Applied {
		reasons = append(reasons, string(delta.Reason))
	}
	return fmt.Sprintf("%s: order %s at stage %s (applied: [%s]): %v",
		ErrPartialReconciliation, e.OrderID, e.Stage, strings.Join(reasons, ", "), e.Err)
}

// Unwrap позволяет матчить и ErrPartialReconciliation, и исходную причину.
func (e *PartialReconciliationError) Unwrap() []error {
	return []error{ErrPartialReconciliation, e.Err}
}
