package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partition — логический раздел хранилища, в котором живёт сущность.
type Partition string

const (
	PartitionProduct Partition = "Product"
	PartitionOrder   Partition = "Order"
)

// Product — позиция каталога. После создания остаток меняет только складской журнал.
type Product struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	StockAvailable int
	ImageURL       string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет инварианты товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if p.Name == "" {
		errs = append(errs, ErrNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if p.StockAvailable < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if p.StockAvailable > MaxQuantity {
		errs = append(errs, ErrStockTooLarge)
	}
	return errs
}
