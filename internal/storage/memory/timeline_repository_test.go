package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestTimelineRepository_AppendList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	now := time.Now().UTC()

	events := []domain.TimelineEvent{
		{OrderID: "o-1", Type: domain.TimelineStockAdjusted, Reason: "order-cancelled", Occurred: now.Add(2 * time.Second)},
		{OrderID: "o-1", Type: domain.TimelineOrderCreated, Reason: "Submitted", Occurred: now},
		{OrderID: "o-2", Type: domain.TimelineOrderCreated, Occurred: now},
	}
	for _, event := range events {
		if err := repo.Append(ctx, event); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	list, err := repo.List(ctx, "o-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].Type != domain.TimelineOrderCreated {
		t.Fatalf("expected chronological events, got %+v", list)
	}
}
