package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(id, customerID string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:         id,
		CustomerID: customerID,
		ProductID:  "p-1",
		Quantity:   2,
		UnitPrice:  decimal.NewFromInt(5),
		Status:     domain.OrderStatusSubmitted,
		OrderDate:  createdAt,
		Version:    1,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	order.RecalculateTotal()
	return order
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "customer-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || !stored.TotalPrice.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected stored order %+v", stored)
	}
}

func TestOrderRepository_ListByCustomer(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Now().UTC()

	for i, id := range []string{"order-1", "order-2", "order-3"} {
		customer := "customer-1"
		if id == "order-3" {
			customer = "customer-2"
		}
		if err := repo.Create(ctx, newOrder(id, customer, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	orders, err := repo.ListByCustomer(ctx, "customer-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "order-2" {
		t.Fatalf("expected newest-first orders of customer-1, got %+v", orders)
	}

	all, err := repo.ListByCustomer(ctx, "", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "order-3" {
		t.Fatalf("expected limited list of all orders, got %+v", all)
	}
}

func TestOrderRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "customer-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	stored.Quantity = 3
	stored.RecalculateTotal()
	saved, err := repo.Save(ctx, stored)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", saved.Version)
	}

	updated, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Quantity != 3 || updated.Version != 2 {
		t.Fatalf("unexpected order after save %+v", updated)
	}

	if _, err := repo.Save(ctx, stored); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict for stale write, got %v", err)
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", "customer-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Delete(ctx, order.ID, 7); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := repo.Delete(ctx, order.ID, order.Version); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, order.ID, order.Version); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on second delete, got %v", err)
	}
}
