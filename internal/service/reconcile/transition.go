package reconcile

import (
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Cause — точка входа, породившая мутацию заказа.
type Cause string

const (
	CauseCart         Cause = "cart"
	CauseAdminCreate  Cause = "admin-create"
	CauseEdit         Cause = "edit"
	CauseStatusChange Cause = "status-change"
	CauseCancel       Cause = "cancel"
	CausePayment      Cause = "payment"
	CauseDelete       Cause = "delete"
)

// Snapshot — поля заказа, влияющие на остатки.
type Snapshot struct {
	ProductID string
	Quantity  int
	Status    domain.OrderStatus
}

// SnapshotOf снимает снапшот с заказа.
func SnapshotOf(order domain.Order) *Snapshot {
	return &Snapshot{ProductID: order.ProductID, Quantity: order.Quantity, Status: order.Status}
}

// Mutation описывает заказ до и после записи. nil означает, что заказа не было (или больше нет).
type Mutation struct {
	OrderID string
	Before  *Snapshot
	After   *Snapshot
	Cause   Cause
}

type holding int

const (
	classAbsent holding = iota
	classHolding
	classFree
)

func (h holding) String() string {
	switch h {
	case classHolding:
		return "holding"
	case classFree:
		return "free"
	default:
		return "absent"
	}
}

// Action — что нужно сделать с остатками при переходе.
type Action int

const (
	ActionNone Action = iota
	ActionDeduct
	ActionRestore
	ActionAdjustQuantity
	ActionSwapProduct
)

func (a Action) String() string {
	switch a {
	case ActionDeduct:
		return "deduct"
	case ActionRestore:
		return "restore"
	case ActionAdjustQuantity:
		return "adjust-quantity"
	case ActionSwapProduct:
		return "swap-product"
	default:
		return "none"
	}
}

type transitionKey struct {
	from            holding
	to              holding
	productChanged  bool
	quantityChanged bool
}

// transitions — полная таблица переходов. Для переходов из/в absent флаги изменений не учитываются.
var transitions = buildTransitions()

func buildTransitions() map[transitionKey]Action {
	table := map[transitionKey]Action{
		{from: classAbsent, to: classAbsent}:  ActionNone,
		{from: classAbsent, to: classHolding}: ActionDeduct,
		{from: classAbsent, to: classFree}:    ActionNone,
		{from: classHolding, to: classAbsent}: ActionRestore,
		{from: classFree, to: classAbsent}:    ActionNone,

		{from: classHolding, to: classHolding, productChanged: true, quantityChanged: true}:   ActionSwapProduct,
		{from: classHolding, to: classHolding, productChanged: true, quantityChanged: false}:  ActionSwapProduct,
		{from: classHolding, to: classHolding, productChanged: false, quantityChanged: true}:  ActionAdjustQuantity,
		{from: classHolding, to: classHolding, productChanged: false, quantityChanged: false}: ActionNone,
	}

	for _, productChanged := range []bool{false, true} {
		for _, quantityChanged := range []bool{false, true} {
			table[transitionKey{classFree, classHolding, productChanged, quantityChanged}] = ActionDeduct
			table[transitionKey{classHolding, classFree, productChanged, quantityChanged}] = ActionRestore
			table[transitionKey{classFree, classFree, productChanged, quantityChanged}] = ActionNone
		}
	}
	return table
}

// PlannedDelta — одно изменение остатка, которое движок передаст журналу.
type PlannedDelta struct {
	ProductID string
	Delta     int
	Reason    domain.StockReason
}

func classify(s *Snapshot) (holding, error) {
	if s == nil {
		return classAbsent, nil
	}
	if !s.Status.Valid() {
		return classAbsent, fmt.Errorf("%w: %q", domain.ErrStatusInvalid, s.Status)
	}
	if s.ProductID == "" {
		return classAbsent, domain.ErrProductRequired
	}
	if !domain.ValidQuantity(s.Quantity) {
		return classAbsent, domain.ErrQuantityInvalid
	}
	if s.Status.HoldsStock() {
		return classHolding, nil
	}
	return classFree, nil
}

// Plan вычисляет список дельт (0, 1 или 2) для мутации по таблице переходов.
func Plan(m Mutation) ([]PlannedDelta, Action, error) {
	from, err := classify(m.Before)
	if err != nil {
		return nil, ActionNone, fmt.Errorf("before: %w", err)
	}
	to, err := classify(m.After)
	if err != nil {
		return nil, ActionNone, fmt.Errorf("after: %w", err)
	}

	key := transitionKey{from: from, to: to}
	if from != classAbsent && to != classAbsent {
		key.productChanged = m.Before.ProductID != m.After.ProductID
		key.quantityChanged = m.Before.Quantity != m.After.Quantity
	}

	action, ok := transitions[key]
	if !ok {
		return nil, ActionNone, fmt.Errorf("no transition from %s to %s", from, to)
	}

	switch action {
	case ActionDeduct:
		reason := deductReason(from, m)
		return []PlannedDelta{{ProductID: m.After.ProductID, Delta: -m.After.Quantity, Reason: reason}}, action, nil
	case ActionRestore:
		reason := domain.ReasonOrderCancelled
		if to == classAbsent {
			reason = domain.ReasonOrderDeleted
		}
		return []PlannedDelta{{ProductID: m.Before.ProductID, Delta: m.Before.Quantity, Reason: reason}}, action, nil
	case ActionAdjustQuantity:
		return []PlannedDelta{{
			ProductID: m.After.ProductID,
			Delta:     -(m.After.Quantity - m.Before.Quantity),
			Reason:    domain.ReasonQuantityChange,
		}}, action, nil
	case ActionSwapProduct:
		return []PlannedDelta{
			{ProductID: m.Before.ProductID, Delta: m.Before.Quantity, Reason: domain.ReasonProductChangeRestore},
			{ProductID: m.After.ProductID, Delta: -m.After.Quantity, Reason: domain.ReasonProductChangeDeduct},
		}, action, nil
	default:
		return nil, action, nil
	}
}

func deductReason(from holding, m Mutation) domain.StockReason {
	if from == classAbsent {
		if m.Cause == CauseCart {
			return domain.ReasonOrderCreatedFromCart
		}
		reason, _ := domain.ReasonOrderCreated(m.After.Status)
		return reason
	}
	if m.Cause == CausePayment {
		return domain.ReasonPaymentProofUploaded
	}
	return domain.ReasonOrderStatusReactivated
}
